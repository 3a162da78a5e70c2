package presence

import "civic-notify/internal/models"

// Live event names pushed to clients.
const (
	EventNewNotification = "new_notification"
	EventUnreadCount     = "unread_count"
	EventNewReport       = "new_report"
	EventNewSuggestion   = "new_suggestion"
	EventError           = "error"
)

// StatusChangedEvent returns "{kind}_status_changed".
func StatusChangedEvent(kind models.EntityKind) string {
	return string(kind) + "_status_changed"
}

// EntityHint is the lightweight payload of new_report and new_suggestion.
type EntityHint struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Municipality string `json:"municipality"`
	WardNumber   *int   `json:"wardNumber,omitempty"`
}

// StatusHint is the payload of the status changed events.
type StatusHint struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ErrorPayload is sent on the initiating connection when a command fails.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
