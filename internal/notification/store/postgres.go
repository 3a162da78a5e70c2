package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/models"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	id            UUID PRIMARY KEY,
	seq           BIGSERIAL,
	recipient_id  TEXT NOT NULL,
	type          TEXT NOT NULL,
	content       TEXT NOT NULL,
	is_read       BOOLEAN NOT NULL DEFAULT FALSE,
	report_id     TEXT,
	suggestion_id TEXT,
	comment_id    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT notifications_single_related CHECK (num_nonnulls(report_id, suggestion_id, comment_id) <= 1)
);
ALTER TABLE notifications ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
DROP INDEX IF EXISTS idx_notifications_recipient_created;
CREATE INDEX IF NOT EXISTS idx_notifications_recipient_seq
	ON notifications (recipient_id, created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient_unread
	ON notifications (recipient_id) WHERE is_read = FALSE;
`

const selectColumns = `id, recipient_id, type, content, is_read, report_id, suggestion_id, comment_id, created_at`

// Postgres is a Store backed by a notifications table.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the notifications table and its indexes if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return apperrors.NewDependencyFailureError("postgres", fmt.Errorf("ensure schema: %w", err))
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, recipientID string, typ models.NotificationType, content string, related models.RelatedEntity) (*models.Notification, error) {
	if err := validateCreate(recipientID, typ, related); err != nil {
		return nil, err
	}

	n := &models.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        typ,
		Content:     content,
		CreatedAt:   p.now(),
	}
	n.SetRelated(related)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, type, content, is_read, report_id, suggestion_id, comment_id, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $8)`,
		n.ID, n.RecipientID, string(n.Type), n.Content, n.ReportID, n.SuggestionID, n.CommentID, n.CreatedAt)
	if err != nil {
		return nil, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("insert notification: %w", err))
	}

	return n, nil
}

func (p *Postgres) List(ctx context.Context, recipientID string, opts ListOptions) ([]models.Notification, int, error) {
	opts = opts.Normalized()

	where := []string{"recipient_id = $1"}
	args := []interface{}{recipientID}
	if opts.IsRead != nil {
		args = append(args, *opts.IsRead)
		where = append(where, fmt.Sprintf("is_read = $%d", len(args)))
	}
	filter := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE "+filter, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("count notifications: %w", err))
	}

	pageArgs := append(append([]interface{}{}, args...), opts.PageSize, opts.Offset())
	// seq breaks created_at ties in insertion order; ids are random
	query := fmt.Sprintf(
		"SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d",
		selectColumns, filter, len(args)+1, len(args)+2,
	)

	rows, err := p.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("list notifications: %w", err))
	}
	defer rows.Close()

	items := make([]models.Notification, 0, opts.PageSize)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("scan notification: %w", err))
		}
		items = append(items, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewDependencyFailureError("postgres", err)
	}

	return items, total, nil
}

func (p *Postgres) MarkRead(ctx context.Context, id, requesterID string) (*models.Notification, error) {
	n, err := p.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(n, id, requesterID); err != nil {
		return nil, err
	}
	if n.IsRead {
		return n, nil
	}

	if _, err := p.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id); err != nil {
		return nil, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("mark read: %w", err))
	}
	n.IsRead = true
	return n, nil
}

func (p *Postgres) MarkAllRead(ctx context.Context, requesterID string) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND is_read = FALSE`, requesterID)
	if err != nil {
		return 0, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("mark all read: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDependencyFailureError("postgres", err)
	}
	return int(affected), nil
}

func (p *Postgres) Delete(ctx context.Context, id, requesterID string) error {
	n, err := p.get(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOwner(n, id, requesterID); err != nil {
		return err
	}

	if _, err := p.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, requesterID); err != nil {
		return apperrors.NewDependencyFailureError("postgres", fmt.Errorf("delete notification: %w", err))
	}
	return nil
}

func (p *Postgres) CountUnread(ctx context.Context, requesterID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, requesterID).Scan(&count)
	if err != nil {
		return 0, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("count unread: %w", err))
	}
	return count, nil
}

// get returns nil, nil when the row does not exist. Ids that are not UUIDs
// cannot exist and skip the query.
func (p *Postgres) get(ctx context.Context, id string) (*models.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	row := p.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM notifications WHERE id = $1", id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDependencyFailureError("postgres", fmt.Errorf("get notification: %w", err))
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(s scanner) (*models.Notification, error) {
	var (
		n                               models.Notification
		typ                             string
		reportID, suggestionID, comment sql.NullString
	)
	if err := s.Scan(&n.ID, &n.RecipientID, &typ, &n.Content, &n.IsRead, &reportID, &suggestionID, &comment, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(typ)
	if reportID.Valid {
		n.ReportID = &reportID.String
	}
	if suggestionID.Valid {
		n.SuggestionID = &suggestionID.String
	}
	if comment.Valid {
		n.CommentID = &comment.String
	}
	return &n, nil
}
