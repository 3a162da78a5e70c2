// Package api exposes the notification REST surface, the internal event
// triggers and the websocket endpoint over fiber.
package api

import (
	"context"
	"time"

	"civic-notify/internal/common/auth"
	"civic-notify/internal/common/logger"
	"civic-notify/internal/notification/catalog"
	"civic-notify/internal/notification/dispatcher"
	"civic-notify/internal/notification/gateway"
	"civic-notify/internal/notification/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventSubmitter accepts domain events for asynchronous dispatch.
type EventSubmitter interface {
	Submit(ev dispatcher.Event) error
}

// UserCache drops cached directory entries after a user's profile changes.
type UserCache interface {
	Invalidate(ctx context.Context, userID string) error
}

// Deps wires the server. Catalog, Gateway, UserCache and Ready are optional.
type Deps struct {
	ServiceName   string
	Store         store.Store
	Catalog       catalog.Catalog
	Events        EventSubmitter
	Gateway       *gateway.Gateway
	UserCache     UserCache
	Transport     gateway.TransportConfig
	Verifier      *auth.Verifier
	InternalToken string
	Ready         func(ctx context.Context) error
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Logger        logger.Logger
}

type Server struct {
	app  *fiber.App
	deps Deps
	log  logger.Logger
}

func NewServer(deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  deps.Logger.WithFields(map[string]interface{}{"component": "api"}),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               deps.ServiceName,
		ReadTimeout:           deps.ReadTimeout,
		WriteTimeout:          deps.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info("http server listening", map[string]interface{}{"addr": addr})
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) setupRoutes() {
	s.app.Use(s.recoverer(), s.requestLogger())

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/ready", s.handleReady)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	if s.deps.Gateway != nil {
		s.app.Get("/ws", s.deps.Gateway.Upgrade(), s.deps.Gateway.Serve(s.deps.Transport))
	}

	api := s.app.Group("/api/v1", s.bearerAuth())
	notifications := api.Group("/notifications")
	notifications.Get("", s.handleList)
	notifications.Get("/unread-count", s.handleUnreadCount)
	notifications.Put("/mark-all-read", s.handleMarkAllRead)
	notifications.Put("/:id/read", s.handleMarkRead)
	notifications.Delete("/:id", s.handleDelete)

	internal := s.app.Group("/internal", s.internalAuth())
	internal.Post("/events/:kind", s.handleEvent)
	if s.deps.UserCache != nil {
		internal.Delete("/users/:id/cache", s.handleInvalidateUser)
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "service": s.deps.ServiceName})
}

func (s *Server) handleReady(c *fiber.Ctx) error {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.log.Warn("readiness check failed", map[string]interface{}{"error": err.Error()})
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
