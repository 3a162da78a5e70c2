package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"civic-notify/internal/models"

	"github.com/google/uuid"
)

// Memory is an in-process Store with the same semantics as Postgres.
type Memory struct {
	mu    sync.RWMutex
	rows  map[string]*models.Notification
	seq   map[string]uint64 // insertion order, breaks created_at ties
	next  uint64
	now   func() time.Time
	newID func() string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rows:  make(map[string]*models.Notification),
		seq:   make(map[string]uint64),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (m *Memory) Create(_ context.Context, recipientID string, typ models.NotificationType, content string, related models.RelatedEntity) (*models.Notification, error) {
	if err := validateCreate(recipientID, typ, related); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := &models.Notification{
		ID:          m.newID(),
		RecipientID: recipientID,
		Type:        typ,
		Content:     content,
		CreatedAt:   m.now(),
	}
	n.SetRelated(related)
	m.rows[n.ID] = n
	m.next++
	m.seq[n.ID] = m.next

	return clone(n), nil
}

func (m *Memory) List(_ context.Context, recipientID string, opts ListOptions) ([]models.Notification, int, error) {
	opts = opts.Normalized()

	m.mu.RLock()
	matched := make([]*models.Notification, 0)
	for _, n := range m.rows {
		if n.RecipientID != recipientID {
			continue
		}
		if opts.IsRead != nil && n.IsRead != *opts.IsRead {
			continue
		}
		matched = append(matched, n)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return m.seq[matched[i].ID] > m.seq[matched[j].ID]
	})

	total := len(matched)
	start := opts.Offset()
	if start > total {
		start = total
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}

	items := make([]models.Notification, 0, end-start)
	for _, n := range matched[start:end] {
		items = append(items, *clone(n))
	}
	m.mu.RUnlock()

	return items, total, nil
}

func (m *Memory) MarkRead(_ context.Context, id, requesterID string) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.rows[id]
	if err := checkOwner(n, id, requesterID); err != nil {
		return nil, err
	}
	n.IsRead = true
	return clone(n), nil
}

func (m *Memory) MarkAllRead(_ context.Context, requesterID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := 0
	for _, n := range m.rows {
		if n.RecipientID == requesterID && !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	return changed, nil
}

func (m *Memory) Delete(_ context.Context, id, requesterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkOwner(m.rows[id], id, requesterID); err != nil {
		return err
	}
	delete(m.rows, id)
	delete(m.seq, id)
	return nil
}

func (m *Memory) CountUnread(_ context.Context, requesterID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, n := range m.rows {
		if n.RecipientID == requesterID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func clone(n *models.Notification) *models.Notification {
	out := *n
	out.SetRelated(n.Related())
	return &out
}
