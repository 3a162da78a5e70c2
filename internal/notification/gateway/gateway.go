// Package gateway binds authenticated websocket connections to the presence
// registry and relays client read-state commands to the store.
package gateway

import (
	"context"
	"encoding/json"

	"civic-notify/internal/common/auth"
	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/common/logger"
	"civic-notify/internal/common/validation"
	"civic-notify/internal/models"
	"civic-notify/internal/notification/audience"
	"civic-notify/internal/notification/presence"
	"civic-notify/internal/notification/store"
)

// Client commands.
const (
	CommandMarkRead    = "mark_notification_read"
	CommandMarkAllRead = "mark_all_read"
)

const schemaEnvelope = "envelope"

var commandSchemas = map[string]string{
	schemaEnvelope: `{
		"type": "object",
		"required": ["event"],
		"properties": {
			"event": {"type": "string", "enum": ["mark_notification_read", "mark_all_read"]},
			"data": {"type": ["object", "null"]}
		}
	}`,
	CommandMarkRead: `{
		"type": "object",
		"required": ["id"],
		"properties": {
			"id": {"type": "string", "minLength": 1}
		}
	}`,
	CommandMarkAllRead: `{"type": ["object", "null"]}`,
}

// Envelope is the wire shape of every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type markReadData struct {
	ID string `json:"id"`
}

// Gateway owns the connection lifecycle independent of the transport.
type Gateway struct {
	verifier  *auth.Verifier
	directory audience.Directory
	store     store.Store
	registry  *presence.Registry
	schemas   *validation.Registry
	logger    logger.Logger
}

func New(verifier *auth.Verifier, dir audience.Directory, st store.Store, reg *presence.Registry, log logger.Logger) *Gateway {
	return &Gateway{
		verifier:  verifier,
		directory: dir,
		store:     st,
		registry:  reg,
		schemas:   validation.MustRegistry(commandSchemas),
		logger:    log.WithFields(map[string]interface{}{"component": "gateway"}),
	}
}

// Authenticate checks a handshake credential. The query token wins over the
// Authorization header.
func (g *Gateway) Authenticate(queryToken, authorization string) (*auth.Claims, error) {
	token := queryToken
	if token == "" {
		var err error
		if token, err = auth.ParseBearerToken(authorization); err != nil {
			return nil, err
		}
	}
	return g.verifier.Verify(token)
}

// Open registers conn for userID and sends it the current unread count.
func (g *Gateway) Open(ctx context.Context, conn presence.Conn, userID string) (*models.User, error) {
	user, err := g.directory.GetUser(ctx, userID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return nil, apperrors.NewAuthenticationError("unknown user")
		}
		return nil, err
	}

	groups := presence.GroupsFor(*user)
	g.registry.Register(conn, user.ID, groups)

	g.logger.Info("connection opened", map[string]interface{}{
		"connectionId": conn.ID(),
		"userId":       user.ID,
		"groups":       groups,
	})

	count, err := g.store.CountUnread(ctx, user.ID)
	if err != nil {
		g.logger.Warn("failed to load initial unread count", map[string]interface{}{
			"userId": user.ID,
			"error":  err.Error(),
		})
		return user, nil
	}
	g.registry.PushToConn(conn, presence.EventUnreadCount, count)
	return user, nil
}

// HandleCommand processes one inbound frame. Failures are answered with an
// error event on conn only.
func (g *Gateway) HandleCommand(ctx context.Context, conn presence.Conn, userID string, frame []byte) {
	if err := g.handle(ctx, userID, frame); err != nil {
		pub := apperrors.Public(err)
		g.logger.WithError(err).Warn("command failed", map[string]interface{}{
			"connectionId": conn.ID(),
			"userId":       userID,
			"code":         string(pub.Code),
		})
		g.registry.PushToConn(conn, presence.EventError, presence.ErrorPayload{
			Code:    string(pub.Code),
			Message: errorMessage(pub),
		})
	}
}

func (g *Gateway) handle(ctx context.Context, userID string, frame []byte) error {
	if err := g.schemas.ValidateBytes(schemaEnvelope, frame); err != nil {
		return err
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return apperrors.NewValidationErrorf("malformed frame: %v", err)
	}

	data := []byte(env.Data)
	if len(data) == 0 {
		data = []byte("null")
	}
	if err := g.schemas.ValidateBytes(env.Event, data); err != nil {
		return err
	}

	switch env.Event {
	case CommandMarkRead:
		var in markReadData
		if err := json.Unmarshal(data, &in); err != nil {
			return apperrors.NewValidationErrorf("malformed data: %v", err)
		}
		if _, err := g.store.MarkRead(ctx, in.ID, userID); err != nil {
			return err
		}
	case CommandMarkAllRead:
		if _, err := g.store.MarkAllRead(ctx, userID); err != nil {
			return err
		}
	}

	g.PushUnreadCount(ctx, userID)
	return nil
}

// PushUnreadCount sends the recomputed count to every connection of userID.
func (g *Gateway) PushUnreadCount(ctx context.Context, userID string) {
	count, err := g.store.CountUnread(ctx, userID)
	if err != nil {
		g.logger.Warn("failed to count unread notifications", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return
	}
	g.registry.PushToUser(userID, presence.EventUnreadCount, count)
}

// Close deregisters the connection. Safe to call more than once.
func (g *Gateway) Close(connectionID string) {
	if g.registry.Deregister(connectionID) {
		g.logger.Info("connection closed", map[string]interface{}{"connectionId": connectionID})
	}
}

func errorMessage(e *apperrors.StandardError) string {
	if e.Details != "" {
		return e.Details
	}
	return e.Message
}
