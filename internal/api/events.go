package api

import (
	"encoding/json"
	"errors"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/common/validation"
	"civic-notify/internal/notification/dispatcher"

	"github.com/gofiber/fiber/v2"
)

const (
	wardProperty   = `"wardNumber": {"type": ["integer", "null"], "minimum": 1}`
	parentProperty = `{"type": "string", "enum": ["report", "suggestion"]}`
)

// eventSchemas check payload shape. Required-field semantics are left to
// Event.Validate so both entry paths agree.
var eventSchemas = map[string]string{
	"report-created": `{
		"type": "object",
		"properties": {
			"reportId": {"type": "string"},
			"title": {"type": "string"},
			"municipality": {"type": "string"},
			` + wardProperty + `,
			"actorId": {"type": "string"},
			"actorName": {"type": "string"}
		}
	}`,
	"suggestion-created": `{
		"type": "object",
		"properties": {
			"suggestionId": {"type": "string"},
			"title": {"type": "string"},
			"municipality": {"type": "string"},
			` + wardProperty + `,
			"actorId": {"type": "string"},
			"actorName": {"type": "string"}
		}
	}`,
	"comment-added": `{
		"type": "object",
		"properties": {
			"commentId": {"type": "string"},
			"parentKind": ` + parentProperty + `,
			"parentId": {"type": "string"},
			"parentOwnerId": {"type": "string"},
			"parentTitle": {"type": "string"},
			"actorId": {"type": "string"},
			"actorName": {"type": "string"}
		}
	}`,
	"comment-deleted": `{
		"type": "object",
		"properties": {
			"commentId": {"type": "string"},
			"parentKind": ` + parentProperty + `,
			"parentId": {"type": "string"},
			"parentTitle": {"type": "string"},
			"authorId": {"type": "string"},
			"actorId": {"type": "string"},
			"actorName": {"type": "string"}
		}
	}`,
	"upvote-added": `{
		"type": "object",
		"properties": {
			"entityKind": ` + parentProperty + `,
			"entityId": {"type": "string"},
			"ownerId": {"type": "string"},
			"title": {"type": "string"},
			"actorId": {"type": "string"},
			"actorName": {"type": "string"}
		}
	}`,
	"status-changed": `{
		"type": "object",
		"properties": {
			"entityKind": ` + parentProperty + `,
			"entityId": {"type": "string"},
			"newStatus": {"type": "string"},
			"ownerId": {"type": "string"},
			"title": {"type": "string"},
			"actorId": {"type": "string"}
		}
	}`,
}

var eventValidator = validation.MustRegistry(eventSchemas)

var eventDecoders = map[string]func([]byte) (dispatcher.Event, error){
	"report-created":     decodeAs[dispatcher.ReportCreated],
	"suggestion-created": decodeAs[dispatcher.SuggestionCreated],
	"comment-added":      decodeAs[dispatcher.CommentAdded],
	"comment-deleted":    decodeAs[dispatcher.CommentDeleted],
	"upvote-added":       decodeAs[dispatcher.UpvoteAdded],
	"status-changed":     decodeAs[dispatcher.StatusChanged],
}

func decodeAs[T dispatcher.Event](body []byte) (dispatcher.Event, error) {
	var e T
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, apperrors.NewValidationErrorf("malformed event: %v", err)
	}
	return e, nil
}

func decodeEvent(kind string, body []byte) (dispatcher.Event, error) {
	decode, ok := eventDecoders[kind]
	if !ok {
		return nil, apperrors.NewNotFoundError("event kind", kind)
	}
	if err := eventValidator.ValidateBytes(kind, body); err != nil {
		return nil, err
	}
	return decode(body)
}

func (s *Server) handleEvent(c *fiber.Ctx) error {
	kind := c.Params("kind")
	ev, err := decodeEvent(kind, c.Body())
	if err != nil {
		return err
	}

	if err := s.deps.Events.Submit(ev); err != nil {
		if errors.Is(err, dispatcher.ErrPipelineFull) || errors.Is(err, dispatcher.ErrPipelineClosed) {
			s.log.Warn("event not accepted", map[string]interface{}{"kind": kind, "error": err.Error()})
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true, "kind": string(ev.Kind())})
}
