package presence

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"civic-notify/internal/common/logger"
	"civic-notify/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeConn struct {
	id     string
	full   bool
	mu     sync.Mutex
	events []string
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, _ interface{}) bool {
	if c.full {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func ids(conns []Conn) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

func newTestRegistry(t *testing.T) *Registry {
	return New(logger.NewTestLogger(t))
}

func intPtr(i int) *int { return &i }

// ==========================
// Register / Deregister
// ==========================

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := newTestRegistry(t)
	a1, a2, b := newFakeConn("a1"), newFakeConn("a2"), newFakeConn("b1")

	r.Register(a1, "alice", []string{"user:alice", "role:USER"})
	r.Register(a2, "alice", []string{"user:alice", "role:USER"})
	r.Register(b, "bob", []string{"user:bob", "role:MUNICIPALITY", "municipality:Lalitpur"})

	assert.Equal(t, []string{"a1", "a2"}, ids(r.ConnectionsForUser("alice")))
	assert.Equal(t, []string{"b1"}, ids(r.ConnectionsForUser("bob")))
	assert.Equal(t, []string{"a1", "a2"}, ids(r.ConnectionsForGroup("role:USER")))
	assert.Equal(t, []string{"b1"}, ids(r.ConnectionsForGroup("municipality:Lalitpur")))
	assert.Empty(t, r.ConnectionsForUser("carol"))
	assert.Empty(t, r.ConnectionsForGroup("municipality:Kathmandu"))

	assert.Equal(t, Stats{Users: 2, Connections: 3, Groups: 5}, r.Stats())
}

func TestRegistry_DeregisterCleansEmptySets(t *testing.T) {
	r := newTestRegistry(t)
	c := newFakeConn("c1")
	r.Register(c, "alice", []string{"user:alice", "role:USER"})

	assert.True(t, r.Deregister("c1"))
	assert.Empty(t, r.ConnectionsForUser("alice"))
	assert.Empty(t, r.ConnectionsForGroup("role:USER"))
	assert.Equal(t, Stats{}, r.Stats())

	// Idempotent
	assert.False(t, r.Deregister("c1"))
	assert.False(t, r.Deregister("never-seen"))
}

func TestRegistry_ReRegisterReplacesMemberships(t *testing.T) {
	r := newTestRegistry(t)
	c := newFakeConn("c1")

	r.Register(c, "alice", []string{"user:alice", "municipality:Lalitpur"})
	r.Register(c, "alice", []string{"user:alice", "municipality:Kathmandu", "user:alice"})

	assert.Equal(t, []string{"c1"}, ids(r.ConnectionsForUser("alice")))
	assert.Empty(t, r.ConnectionsForGroup("municipality:Lalitpur"))
	assert.Equal(t, []string{"c1"}, ids(r.ConnectionsForGroup("municipality:Kathmandu")))
	assert.Equal(t, []string{"user:alice", "municipality:Kathmandu"}, r.Groups("c1"))
	assert.Equal(t, 1, r.Stats().Connections)
}

// For any sequence of register/deregister calls the per-user set equals the
// set of connections that are open.
func TestRegistry_RandomSequencesMatchModel(t *testing.T) {
	users := []string{"u1", "u2", "u3"}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		r := newTestRegistry(t)
		open := map[string]string{} // connID -> userID

		for step := 0; step < 200; step++ {
			connID := fmt.Sprintf("c%d", rng.Intn(12))
			if rng.Intn(3) == 0 {
				r.Deregister(connID)
				delete(open, connID)
				continue
			}
			user := users[rng.Intn(len(users))]
			r.Register(newFakeConn(connID), user, []string{UserGroup(user), "role:USER"})
			open[connID] = user
		}

		for _, u := range users {
			want := []string{}
			for connID, owner := range open {
				if owner == u {
					want = append(want, connID)
				}
			}
			sort.Strings(want)
			got := ids(r.ConnectionsForUser(u))
			require.Equal(t, want, got, "round %d user %s", round, u)
			require.Equal(t, want, ids(r.ConnectionsForGroup(UserGroup(u))), "round %d group of %s", round, u)
		}
		require.Equal(t, len(open), r.Stats().Connections)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry(t)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(newFakeConn(id), "alice", []string{"user:alice"})
			_ = r.ConnectionsForUser("alice")
			r.PushToUser("alice", "unread_count", map[string]int{"count": 1})
			if i%2 == 0 {
				r.Deregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.ConnectionsForUser("alice"), 10)
}

// ==========================
// Push
// ==========================

func TestRegistry_PushCountsDrops(t *testing.T) {
	r := newTestRegistry(t)
	ok := newFakeConn("ok")
	slow := newFakeConn("slow")
	slow.full = true

	r.Register(ok, "alice", []string{"user:alice"})
	r.Register(slow, "alice", []string{"user:alice"})

	assert.Equal(t, 1, r.PushToUser("alice", "unread_count", 3))
	assert.Equal(t, []string{"unread_count"}, ok.received())
	assert.Equal(t, 1, r.PushToGroup("user:alice", "new_notification", nil))
	assert.Zero(t, r.PushToGroup("nobody", "new_notification", nil))
	assert.False(t, r.PushToConn(slow, "unread_count", 0))
}

// ==========================
// Groups
// ==========================

func TestGroupsFor(t *testing.T) {
	tests := []struct {
		name string
		user models.User
		want []string
	}{
		{
			name: "citizen with municipality and ward",
			user: models.User{ID: "a", Role: models.RoleUser, Municipality: "Lalitpur", WardNumber: intPtr(4)},
			want: []string{"user:a", "role:USER", "municipality:Lalitpur", "ward:Lalitpur:4"},
		},
		{
			name: "municipality admin without ward",
			user: models.User{ID: "b", Role: models.RoleMunicipality, Municipality: "Lalitpur"},
			want: []string{"user:b", "role:MUNICIPALITY", "municipality:Lalitpur"},
		},
		{
			name: "ward without municipality is ignored",
			user: models.User{ID: "c", Role: models.RoleAdmin, WardNumber: intPtr(2)},
			want: []string{"user:c", "role:ADMIN"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GroupsFor(tt.user))
		})
	}
}
