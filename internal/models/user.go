package models

// Role is the account role held by a platform user.
type Role string

const (
	RoleUser         Role = "USER"
	RoleMunicipality Role = "MUNICIPALITY"
	RoleAdmin        Role = "ADMIN"
)

// User is the read-only view of a platform account.
type User struct {
	ID           string `json:"id"`
	Role         Role   `json:"role"`
	Municipality string `json:"municipality,omitempty"`
	WardNumber   *int   `json:"wardNumber,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
}
