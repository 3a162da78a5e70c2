// Package audience decides which users receive a notification.
package audience

import (
	"context"
	"sort"

	"civic-notify/internal/models"
)

// Resolver turns an event scope into a deduplicated recipient list. The
// acting user is always excluded.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// ResolveDirect returns {userID} unless it is empty or equals the actor.
func (r *Resolver) ResolveDirect(userID, excludeUserID string) []string {
	if userID == "" || userID == excludeUserID {
		return nil
	}
	return []string{userID}
}

// ResolveMunicipality returns every MUNICIPALITY-role user of the
// municipality except the actor, sorted. Ward is deliberately not consulted.
func (r *Resolver) ResolveMunicipality(ctx context.Context, municipality, excludeUserID string) ([]string, error) {
	if municipality == "" {
		return nil, nil
	}

	users, err := r.dir.ListByRole(ctx, models.RoleMunicipality, municipality)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u.ID == "" || u.ID == excludeUserID {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u.ID)
	}
	sort.Strings(out)
	return out, nil
}
