package dispatcher

import (
	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/models"
)

// Kind identifies a domain event.
type Kind string

const (
	KindReportCreated     Kind = "report_created"
	KindSuggestionCreated Kind = "suggestion_created"
	KindCommentAdded      Kind = "comment_added"
	KindCommentDeleted    Kind = "comment_deleted"
	KindUpvoteAdded       Kind = "upvote_added"
	KindStatusChanged     Kind = "status_changed"
)

// Event is one of the domain events below. Validate checks required fields
// without any I/O.
type Event interface {
	Kind() Kind
	Actor() string
	Validate() error
}

// ReportCreated is raised after a citizen files a report.
type ReportCreated struct {
	ReportID     string `json:"reportId"`
	Title        string `json:"title,omitempty"`
	Municipality string `json:"municipality"`
	WardNumber   *int   `json:"wardNumber,omitempty"`
	ActorID      string `json:"actorId"`
	ActorName    string `json:"actorName,omitempty"`
}

// SuggestionCreated is raised after a citizen files a suggestion.
type SuggestionCreated struct {
	SuggestionID string `json:"suggestionId"`
	Title        string `json:"title,omitempty"`
	Municipality string `json:"municipality"`
	WardNumber   *int   `json:"wardNumber,omitempty"`
	ActorID      string `json:"actorId"`
	ActorName    string `json:"actorName,omitempty"`
}

// CommentAdded is raised when someone comments on a report or suggestion.
// The parent's owner is notified.
type CommentAdded struct {
	CommentID     string            `json:"commentId"`
	ParentKind    models.EntityKind `json:"parentKind"`
	ParentID      string            `json:"parentId"`
	ParentOwnerID string            `json:"parentOwnerId"`
	ParentTitle   string            `json:"parentTitle,omitempty"`
	ActorID       string            `json:"actorId"`
	ActorName     string            `json:"actorName,omitempty"`
}

// CommentDeleted is raised when a comment is removed. Its author is notified
// and the notification points at the parent.
type CommentDeleted struct {
	CommentID   string            `json:"commentId,omitempty"`
	ParentKind  models.EntityKind `json:"parentKind"`
	ParentID    string            `json:"parentId"`
	ParentTitle string            `json:"parentTitle,omitempty"`
	AuthorID    string            `json:"authorId"`
	ActorID     string            `json:"actorId"`
	ActorName   string            `json:"actorName,omitempty"`
}

// UpvoteAdded is raised when a report or suggestion is upvoted.
type UpvoteAdded struct {
	EntityKind models.EntityKind `json:"entityKind"`
	EntityID   string            `json:"entityId"`
	OwnerID    string            `json:"ownerId"`
	Title      string            `json:"title,omitempty"`
	ActorID    string            `json:"actorId"`
	ActorName  string            `json:"actorName,omitempty"`
}

// StatusChanged is raised when a municipality account moves a report or
// suggestion to a new status. ActorID may be empty for system changes.
type StatusChanged struct {
	EntityKind models.EntityKind `json:"entityKind"`
	EntityID   string            `json:"entityId"`
	NewStatus  string            `json:"newStatus"`
	OwnerID    string            `json:"ownerId"`
	Title      string            `json:"title,omitempty"`
	ActorID    string            `json:"actorId,omitempty"`
}

func (e ReportCreated) Kind() Kind     { return KindReportCreated }
func (e SuggestionCreated) Kind() Kind { return KindSuggestionCreated }
func (e CommentAdded) Kind() Kind      { return KindCommentAdded }
func (e CommentDeleted) Kind() Kind    { return KindCommentDeleted }
func (e UpvoteAdded) Kind() Kind       { return KindUpvoteAdded }
func (e StatusChanged) Kind() Kind     { return KindStatusChanged }

func (e ReportCreated) Actor() string     { return e.ActorID }
func (e SuggestionCreated) Actor() string { return e.ActorID }
func (e CommentAdded) Actor() string      { return e.ActorID }
func (e CommentDeleted) Actor() string    { return e.ActorID }
func (e UpvoteAdded) Actor() string       { return e.ActorID }
func (e StatusChanged) Actor() string     { return e.ActorID }

func (e ReportCreated) Validate() error {
	return requireFields(e.Kind(),
		field{"actorId", e.ActorID},
		field{"reportId", e.ReportID},
		field{"municipality", e.Municipality},
	).and(validWard(e.WardNumber))
}

func (e SuggestionCreated) Validate() error {
	return requireFields(e.Kind(),
		field{"actorId", e.ActorID},
		field{"suggestionId", e.SuggestionID},
		field{"municipality", e.Municipality},
	).and(validWard(e.WardNumber))
}

func (e CommentAdded) Validate() error {
	return requireFields(e.Kind(),
		field{"actorId", e.ActorID},
		field{"commentId", e.CommentID},
		field{"parentId", e.ParentID},
		field{"parentOwnerId", e.ParentOwnerID},
	).and(validParent("parentKind", e.ParentKind))
}

func (e CommentDeleted) Validate() error {
	return requireFields(e.Kind(),
		field{"actorId", e.ActorID},
		field{"parentId", e.ParentID},
		field{"authorId", e.AuthorID},
	).and(validParent("parentKind", e.ParentKind))
}

func (e UpvoteAdded) Validate() error {
	return requireFields(e.Kind(),
		field{"actorId", e.ActorID},
		field{"entityId", e.EntityID},
		field{"ownerId", e.OwnerID},
	).and(validParent("entityKind", e.EntityKind))
}

func (e StatusChanged) Validate() error {
	return requireFields(e.Kind(),
		field{"entityId", e.EntityID},
		field{"newStatus", e.NewStatus},
		field{"ownerId", e.OwnerID},
	).and(validParent("entityKind", e.EntityKind))
}

type field struct {
	name  string
	value string
}

type check struct{ err error }

func (c check) and(err error) error {
	if c.err != nil {
		return c.err
	}
	return err
}

func requireFields(kind Kind, fields ...field) check {
	for _, f := range fields {
		if f.value == "" {
			return check{apperrors.NewValidationErrorf("%s: %s is required", kind, f.name)}
		}
	}
	return check{}
}

func validWard(ward *int) error {
	if ward != nil && *ward < 1 {
		return apperrors.NewValidationErrorf("wardNumber must be positive, got %d", *ward)
	}
	return nil
}

// Comments, upvotes and status changes only target reports and suggestions.
func validParent(name string, kind models.EntityKind) error {
	if kind != models.KindReport && kind != models.KindSuggestion {
		return apperrors.NewValidationErrorf("%s must be report or suggestion, got %q", name, kind)
	}
	return nil
}
