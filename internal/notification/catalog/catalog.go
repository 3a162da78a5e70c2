// Package catalog looks up display titles of reports, suggestions and comments
// owned by the content subsystem.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/models"
)

const commentSnippetLen = 80

// Catalog resolves an entity reference to its title. A missing entity is
// reported as found=false, never as an error.
type Catalog interface {
	Lookup(ctx context.Context, kind models.EntityKind, id string) (title string, found bool, err error)
}

// Postgres reads titles from the reports, suggestions and comments tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Lookup(ctx context.Context, kind models.EntityKind, id string) (string, bool, error) {
	var query string
	switch kind {
	case models.KindReport:
		query = `SELECT title FROM reports WHERE id = $1`
	case models.KindSuggestion:
		query = `SELECT title FROM suggestions WHERE id = $1`
	case models.KindComment:
		query = fmt.Sprintf(`SELECT LEFT(content, %d) FROM comments WHERE id = $1`, commentSnippetLen)
	default:
		return "", false, apperrors.NewValidationErrorf("unknown entity kind %q", kind)
	}

	var title string
	err := p.db.QueryRowContext(ctx, query, id).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("lookup %s: %w", kind, err))
	}
	return title, true, nil
}

// Memory is an in-process catalog.
type Memory struct {
	mu     sync.RWMutex
	titles map[models.RelatedEntity]string
}

func NewMemory() *Memory {
	return &Memory{titles: make(map[models.RelatedEntity]string)}
}

// Put records an entity title.
func (m *Memory) Put(kind models.EntityKind, id, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles[models.RelatedEntity{Kind: kind, ID: id}] = title
}

// Remove forgets an entity, leaving references to it dangling.
func (m *Memory) Remove(kind models.EntityKind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.titles, models.RelatedEntity{Kind: kind, ID: id})
}

func (m *Memory) Lookup(_ context.Context, kind models.EntityKind, id string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	title, ok := m.titles[models.RelatedEntity{Kind: kind, ID: id}]
	return title, ok, nil
}
