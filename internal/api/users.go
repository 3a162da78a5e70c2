package api

import (
	apperrors "civic-notify/internal/common/errors"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) handleInvalidateUser(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := s.deps.UserCache.Invalidate(c.UserContext(), userID); err != nil {
		return apperrors.NewDependencyFailureError("redis", err)
	}
	s.log.Info("user cache invalidated", map[string]interface{}{"userId": userID})
	return c.JSON(fiber.Map{"userId": userID, "invalidated": true})
}
