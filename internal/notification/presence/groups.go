package presence

import (
	"fmt"

	"civic-notify/internal/models"
)

func UserGroup(userID string) string { return "user:" + userID }

func RoleGroup(role models.Role) string { return "role:" + string(role) }

func MunicipalityGroup(municipality string) string { return "municipality:" + municipality }

func WardGroup(municipality string, ward int) string {
	return fmt.Sprintf("ward:%s:%d", municipality, ward)
}

// GroupsFor derives a connection's groups from the user's role, municipality
// and ward. The ward group needs both municipality and ward.
func GroupsFor(u models.User) []string {
	groups := []string{UserGroup(u.ID), RoleGroup(u.Role)}
	if u.Municipality != "" {
		groups = append(groups, MunicipalityGroup(u.Municipality))
		if u.WardNumber != nil {
			groups = append(groups, WardGroup(u.Municipality, *u.WardNumber))
		}
	}
	return groups
}
