package api

import (
	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/models"
	"civic-notify/internal/notification/store"

	"github.com/gofiber/fiber/v2"
)

type relatedEntityView struct {
	Kind  models.EntityKind `json:"kind"`
	ID    string            `json:"id"`
	Title string            `json:"title,omitempty"`
	Found bool              `json:"found"`
}

type notificationItem struct {
	models.Notification
	RelatedEntity *relatedEntityView `json:"relatedEntity,omitempty"`
}

type pagination struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Pages    int `json:"pages"`
}

type listResponse struct {
	Items      []notificationItem `json:"items"`
	Pagination pagination         `json:"pagination"`
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func (s *Server) handleList(c *fiber.Ctx) error {
	opts := store.ListOptions{
		Page:     c.QueryInt("page", store.DefaultPage),
		PageSize: c.QueryInt("pageSize", store.DefaultPageSize),
	}
	switch c.Query("isRead") {
	case "":
	case "true":
		v := true
		opts.IsRead = &v
	case "false":
		v := false
		opts.IsRead = &v
	default:
		return apperrors.NewValidationError("isRead must be true or false")
	}
	opts = opts.Normalized()

	items, total, err := s.deps.Store.List(c.UserContext(), userID(c), opts)
	if err != nil {
		return err
	}

	out := make([]notificationItem, 0, len(items))
	for _, n := range items {
		out = append(out, notificationItem{Notification: n, RelatedEntity: s.resolveRelated(c, n)})
	}

	return c.JSON(listResponse{
		Items: out,
		Pagination: pagination{
			Total:    total,
			Page:     opts.Page,
			PageSize: opts.PageSize,
			Pages:    store.TotalPages(total, opts.PageSize),
		},
	})
}

// resolveRelated looks up the related entity's title. A deleted entity is
// reported with found=false, never as an error.
func (s *Server) resolveRelated(c *fiber.Ctx, n models.Notification) *relatedEntityView {
	related := n.Related()
	if related.IsZero() {
		return nil
	}
	view := &relatedEntityView{Kind: related.Kind, ID: related.ID}
	if s.deps.Catalog == nil {
		return view
	}

	title, found, err := s.deps.Catalog.Lookup(c.UserContext(), related.Kind, related.ID)
	if err != nil {
		s.log.Warn("related entity lookup failed", map[string]interface{}{
			"notificationId": n.ID,
			"kind":           string(related.Kind),
			"entityId":       related.ID,
			"error":          err.Error(),
		})
		return view
	}
	view.Title, view.Found = title, found
	return view
}

func (s *Server) handleUnreadCount(c *fiber.Ctx) error {
	count, err := s.deps.Store.CountUnread(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": count})
}

func (s *Server) handleMarkRead(c *fiber.Ctx) error {
	uid := userID(c)
	n, err := s.deps.Store.MarkRead(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return err
	}
	s.pushUnread(c, uid)
	return c.JSON(n)
}

func (s *Server) handleMarkAllRead(c *fiber.Ctx) error {
	uid := userID(c)
	count, err := s.deps.Store.MarkAllRead(c.UserContext(), uid)
	if err != nil {
		return err
	}
	s.pushUnread(c, uid)
	return c.JSON(fiber.Map{"count": count})
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	uid := userID(c)
	id := c.Params("id")
	if err := s.deps.Store.Delete(c.UserContext(), id, uid); err != nil {
		return err
	}
	s.pushUnread(c, uid)
	return c.JSON(fiber.Map{"id": id, "deleted": true})
}

func (s *Server) pushUnread(c *fiber.Ctx, uid string) {
	if s.deps.Gateway != nil {
		s.deps.Gateway.PushUnreadCount(c.UserContext(), uid)
	}
}
