// Package store persists per-user notifications.
package store

import (
	"context"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/models"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Store is the durable notification record keeper. Every read and mutation is
// scoped to a single recipient.
type Store interface {
	Create(ctx context.Context, recipientID string, typ models.NotificationType, content string, related models.RelatedEntity) (*models.Notification, error)
	List(ctx context.Context, recipientID string, opts ListOptions) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, requesterID string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, requesterID string) (int, error)
	Delete(ctx context.Context, id, requesterID string) error
	CountUnread(ctx context.Context, requesterID string) (int, error)
}

// ListOptions filters and paginates List. A nil IsRead returns both states.
type ListOptions struct {
	IsRead   *bool
	Page     int
	PageSize int
}

// Normalized applies defaults: values below 1 take the default and PageSize
// is capped at MaxPageSize.
func (o ListOptions) Normalized() ListOptions {
	if o.Page < 1 {
		o.Page = DefaultPage
	}
	if o.PageSize < 1 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	return o
}

// Offset is the number of rows skipped for the page.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.PageSize
}

// TotalPages returns ceil(total/pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize < 1 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func validateCreate(recipientID string, typ models.NotificationType, related models.RelatedEntity) error {
	if recipientID == "" {
		return apperrors.NewValidationError("recipientId is required")
	}
	if !typ.Valid() {
		return apperrors.NewValidationErrorf("unknown notification type %q", typ)
	}
	_, err := models.NewRelatedEntity(typ, related.Kind, related.ID)
	return err
}

func checkOwner(n *models.Notification, id, requesterID string) error {
	if n == nil {
		return apperrors.NewNotFoundError("notification", id)
	}
	if n.RecipientID != requesterID {
		return apperrors.NewForbiddenError("notification belongs to another user")
	}
	return nil
}
