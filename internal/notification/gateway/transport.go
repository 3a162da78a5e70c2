package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/common/logger"
	"civic-notify/internal/notification/presence"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const localUserID = "gateway.userId"

// TransportConfig tunes each websocket connection.
type TransportConfig struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 54 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// pongWait must exceed the ping interval.
func (c TransportConfig) pongWait() time.Duration {
	return c.PingInterval * 10 / 9
}

type outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// wsConn is a presence.Conn backed by a websocket with a buffered send
// queue drained by writePump.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newWSConn(id string, ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send never blocks. A full queue or closed connection drops the frame.
func (c *wsConn) Send(event string, payload interface{}) bool {
	frame, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsConn) writePump(cfg TransportConfig, log logger.Logger) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(c.done)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("websocket write failed", map[string]interface{}{"connectionId": c.id, "error": err.Error()})
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("websocket ping failed", map[string]interface{}{"connectionId": c.id, "error": err.Error()})
				c.drain()
				return
			}
		}
	}
}

// drain marks the connection closed after a write failure so later pushes
// are dropped instead of queued.
func (c *wsConn) drain() {
	c.shutdown()
	for range c.send {
	}
}

// Upgrade authenticates the handshake. Unauthenticated requests get 401 and
// never reach the upgrade.
func (g *Gateway) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := g.Authenticate(c.Query("token"), c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": apperrors.Public(err)})
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		c.Locals(localUserID, claims.UserID())
		return c.Next()
	}
}

// Serve returns the websocket endpoint. Mount it after Upgrade.
func (g *Gateway) Serve(cfg TransportConfig) fiber.Handler {
	cfg = cfg.withDefaults()
	return websocket.New(func(ws *websocket.Conn) {
		g.serve(ws, cfg)
	})
}

func (g *Gateway) serve(ws *websocket.Conn, cfg TransportConfig) {
	userID, _ := ws.Locals(localUserID).(string)
	conn := newWSConn(uuid.NewString(), ws, cfg.SendBuffer)
	ctx := context.Background()

	go conn.writePump(cfg, g.logger)
	defer func() {
		g.Close(conn.id)
		conn.shutdown()
		<-conn.done
	}()

	if _, err := g.Open(ctx, conn, userID); err != nil {
		pub := apperrors.Public(err)
		conn.Send(presence.EventError, presence.ErrorPayload{Code: string(pub.Code), Message: errorMessage(pub)})
		return
	}

	ws.SetReadLimit(cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(cfg.pongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.pongWait()))
	})

	for {
		mt, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read failed", map[string]interface{}{"connectionId": conn.id, "error": err.Error()})
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		g.HandleCommand(ctx, conn, userID, frame)
	}
}
