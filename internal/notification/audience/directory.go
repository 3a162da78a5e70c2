package audience

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/models"
)

// Directory is the read-only user directory owned by the account subsystem.
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListByRole(ctx context.Context, role models.Role, municipality string) ([]models.User, error)
}

// PostgresDirectory reads users from the shared users table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, role, COALESCE(municipality, ''), ward_number, COALESCE(display_name, '') FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("user", id)
	}
	if err != nil {
		return nil, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("get user: %w", err))
	}
	return u, nil
}

func (d *PostgresDirectory) ListByRole(ctx context.Context, role models.Role, municipality string) ([]models.User, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, role, COALESCE(municipality, ''), ward_number, COALESCE(display_name, '')
		 FROM users WHERE role = $1 AND municipality = $2 ORDER BY id`, string(role), municipality)
	if err != nil {
		return nil, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("list users by role: %w", err))
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("scan user: %w", err))
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDependencyFailureError("postgres", err)
	}
	return users, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(s scanner) (*models.User, error) {
	var (
		u    models.User
		role string
		ward sql.NullInt64
	)
	if err := s.Scan(&u.ID, &role, &u.Municipality, &ward, &u.DisplayName); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	if ward.Valid {
		w := int(ward.Int64)
		u.WardNumber = &w
	}
	return &u, nil
}

// MemoryDirectory is a fixed in-process directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryDirectory(users ...models.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]models.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put adds or replaces a user.
func (d *MemoryDirectory) Put(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) GetUser(_ context.Context, id string) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("user", id)
	}
	return &u, nil
}

func (d *MemoryDirectory) ListByRole(_ context.Context, role models.Role, municipality string) ([]models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.User
	for _, u := range d.users {
		if u.Role == role && u.Municipality == municipality {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
