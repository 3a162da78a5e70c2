// internal/models/notification.go
package models

import (
	"time"

	apperrors "civic-notify/internal/common/errors"
)

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	TypeNewReport               NotificationType = "NEW_REPORT"
	TypeNewSuggestion           NotificationType = "NEW_SUGGESTION"
	TypeNewComment              NotificationType = "NEW_COMMENT"
	TypeNewUpvote               NotificationType = "NEW_UPVOTE"
	TypeReportStatusChanged     NotificationType = "REPORT_STATUS_CHANGED"
	TypeSuggestionStatusChanged NotificationType = "SUGGESTION_STATUS_CHANGED"
	TypeCommentDeleted          NotificationType = "COMMENT_DELETED"
)

// EntityKind names the entity a notification points at.
type EntityKind string

const (
	KindReport     EntityKind = "report"
	KindSuggestion EntityKind = "suggestion"
	KindComment    EntityKind = "comment"
)

// COMMENT_DELETED points at the parent because the comment itself is gone.
var allowedKinds = map[NotificationType][]EntityKind{
	TypeNewReport:               {KindReport},
	TypeNewSuggestion:           {KindSuggestion},
	TypeNewComment:              {KindComment},
	TypeNewUpvote:               {KindReport, KindSuggestion},
	TypeReportStatusChanged:     {KindReport},
	TypeSuggestionStatusChanged: {KindSuggestion},
	TypeCommentDeleted:          {KindReport, KindSuggestion},
}

// AllNotificationTypes lists every type in declaration order.
func AllNotificationTypes() []NotificationType {
	return []NotificationType{
		TypeNewReport,
		TypeNewSuggestion,
		TypeNewComment,
		TypeNewUpvote,
		TypeReportStatusChanged,
		TypeSuggestionStatusChanged,
		TypeCommentDeleted,
	}
}

// Valid reports whether t belongs to the enumeration.
func (t NotificationType) Valid() bool {
	_, ok := allowedKinds[t]
	return ok
}

// Accepts reports whether a notification of type t may reference kind.
func (t NotificationType) Accepts(kind EntityKind) bool {
	for _, k := range allowedKinds[t] {
		if k == kind {
			return true
		}
	}
	return false
}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindReport, KindSuggestion, KindComment:
		return true
	}
	return false
}

// RelatedEntity is a tagged reference to one report, suggestion or comment.
type RelatedEntity struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// IsZero reports whether no reference is set.
func (r RelatedEntity) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// NewRelatedEntity builds a reference and checks it against the notification type.
func NewRelatedEntity(t NotificationType, kind EntityKind, id string) (RelatedEntity, error) {
	if !t.Valid() {
		return RelatedEntity{}, apperrors.NewValidationErrorf("unknown notification type %q", t)
	}
	if id == "" {
		return RelatedEntity{}, apperrors.NewValidationErrorf("%s requires a related %v id", t, allowedKinds[t])
	}
	if !kind.Valid() {
		return RelatedEntity{}, apperrors.NewValidationErrorf("unknown entity kind %q", kind)
	}
	if !t.Accepts(kind) {
		return RelatedEntity{}, apperrors.NewValidationErrorf("%s cannot reference a %s", t, kind)
	}
	return RelatedEntity{Kind: kind, ID: id}, nil
}

// Notification is a persisted per-user notification. At most one of the
// related id fields is set.
type Notification struct {
	ID           string           `json:"id"`
	RecipientID  string           `json:"recipientId"`
	Type         NotificationType `json:"type"`
	Content      string           `json:"content"`
	IsRead       bool             `json:"isRead"`
	ReportID     *string          `json:"reportId,omitempty"`
	SuggestionID *string          `json:"suggestionId,omitempty"`
	CommentID    *string          `json:"commentId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// Related returns the reference stored in the nullable id fields.
func (n *Notification) Related() RelatedEntity {
	switch {
	case n.ReportID != nil:
		return RelatedEntity{Kind: KindReport, ID: *n.ReportID}
	case n.SuggestionID != nil:
		return RelatedEntity{Kind: KindSuggestion, ID: *n.SuggestionID}
	case n.CommentID != nil:
		return RelatedEntity{Kind: KindComment, ID: *n.CommentID}
	}
	return RelatedEntity{}
}

// SetRelated clears all id fields and sets the one matching r.Kind.
func (n *Notification) SetRelated(r RelatedEntity) {
	n.ReportID, n.SuggestionID, n.CommentID = nil, nil, nil
	if r.IsZero() {
		return
	}
	id := r.ID
	switch r.Kind {
	case KindReport:
		n.ReportID = &id
	case KindSuggestion:
		n.SuggestionID = &id
	case KindComment:
		n.CommentID = &id
	}
}
