// Package presence tracks which live connections belong to which user and
// broadcast group.
package presence

import (
	"sort"
	"sync"

	"civic-notify/internal/common/logger"
	"civic-notify/internal/common/metrics"
)

// Conn is a live client connection. Send must not block; it reports false
// when the event was dropped.
type Conn interface {
	ID() string
	Send(event string, payload interface{}) bool
}

type membership struct {
	conn   Conn
	userID string
	groups []string
}

// Stats is a point-in-time size of the registry.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	Groups      int `json:"groups"`
}

// Registry maps users and groups to their open connections. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*membership
	byUser  map[string]map[string]Conn
	byGroup map[string]map[string]Conn
	logger  logger.Logger
}

// New returns an empty registry.
func New(log logger.Logger) *Registry {
	return &Registry{
		conns:   make(map[string]*membership),
		byUser:  make(map[string]map[string]Conn),
		byGroup: make(map[string]map[string]Conn),
		logger:  log.WithFields(map[string]interface{}{"component": "presence"}),
	}
}

// Register adds conn to the user's set and to every group. Registering an id
// that is already present replaces its previous memberships.
func (r *Registry) Register(conn Conn, userID string, groups []string) {
	r.mu.Lock()
	if _, exists := r.conns[conn.ID()]; exists {
		r.removeLocked(conn.ID())
	}

	m := &membership{conn: conn, userID: userID, groups: dedupe(groups)}
	r.conns[conn.ID()] = m
	add(r.byUser, userID, conn)
	for _, g := range m.groups {
		add(r.byGroup, g, conn)
	}
	total := len(r.conns)
	r.mu.Unlock()

	metrics.LiveConnections.Set(float64(total))
	r.logger.Debug("connection registered", map[string]interface{}{
		"connectionId": conn.ID(),
		"userId":       userID,
		"groups":       m.groups,
	})
}

// Deregister removes the connection everywhere. Unknown ids are ignored.
// It reports whether anything was removed.
func (r *Registry) Deregister(connectionID string) bool {
	r.mu.Lock()
	removed := r.removeLocked(connectionID)
	total := len(r.conns)
	r.mu.Unlock()

	if removed {
		metrics.LiveConnections.Set(float64(total))
		r.logger.Debug("connection deregistered", map[string]interface{}{"connectionId": connectionID})
	}
	return removed
}

func (r *Registry) removeLocked(connectionID string) bool {
	m, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	delete(r.conns, connectionID)
	remove(r.byUser, m.userID, connectionID)
	for _, g := range m.groups {
		remove(r.byGroup, g, connectionID)
	}
	return true
}

// ConnectionsForUser returns a snapshot of the user's connections ordered by id.
func (r *Registry) ConnectionsForUser(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byUser[userID])
}

// ConnectionsForGroup returns a snapshot of the group's connections ordered by id.
func (r *Registry) ConnectionsForGroup(group string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.byGroup[group])
}

// Groups returns the groups a connection joined, or nil if unknown.
func (r *Registry) Groups(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.conns[connectionID]
	if !ok {
		return nil
	}
	return append([]string(nil), m.groups...)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Users: len(r.byUser), Connections: len(r.conns), Groups: len(r.byGroup)}
}

// PushToUser sends an event to every connection of the user and returns how
// many accepted it.
func (r *Registry) PushToUser(userID, event string, payload interface{}) int {
	return r.push(r.ConnectionsForUser(userID), event, payload)
}

// PushToGroup sends an event to every connection in the group.
func (r *Registry) PushToGroup(group, event string, payload interface{}) int {
	return r.push(r.ConnectionsForGroup(group), event, payload)
}

// PushToConn sends an event to one connection.
func (r *Registry) PushToConn(conn Conn, event string, payload interface{}) bool {
	return r.push([]Conn{conn}, event, payload) == 1
}

func (r *Registry) push(conns []Conn, event string, payload interface{}) int {
	delivered := 0
	for _, c := range conns {
		if c.Send(event, payload) {
			delivered++
			metrics.LivePushes.WithLabelValues(event).Inc()
			continue
		}
		metrics.LivePushesDropped.WithLabelValues(event).Inc()
		r.logger.Warn("live push dropped", map[string]interface{}{
			"connectionId": c.ID(),
			"event":        event,
		})
	}
	return delivered
}

func add(index map[string]map[string]Conn, key string, conn Conn) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]Conn)
		index[key] = set
	}
	set[conn.ID()] = conn
}

func remove(index map[string]map[string]Conn, key, connectionID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(index, key)
	}
}

func snapshot(set map[string]Conn) []Conn {
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func dedupe(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
