package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"civic-notify/internal/common/auth"
	apperrors "civic-notify/internal/common/errors"

	"github.com/gofiber/fiber/v2"
)

const (
	localUserID         = "userId"
	headerInternalToken = "X-Internal-Token"
)

// bearerAuth verifies the Authorization header and stores the subject.
func (s *Server) bearerAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return err
		}
		claims, err := s.deps.Verifier.Verify(token)
		if err != nil {
			return err
		}
		c.Locals(localUserID, claims.UserID())
		return c.Next()
	}
}

// internalAuth guards the trigger endpoints with a shared token.
func (s *Server) internalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(headerInternalToken)
		if got == "" || s.deps.InternalToken == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.InternalToken)) != 1 {
			return apperrors.NewAuthenticationError("invalid internal token")
		}
		return c.Next()
	}
}

func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// render now so the logged status is the final one
			if herr := s.handleError(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		s.log.Debug("http request", map[string]interface{}{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"durationMs": time.Since(start).Milliseconds(),
		})
		return nil
	}
}

func (s *Server) recoverer() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("recovered from panic in http handler", map[string]interface{}{
					"path":  c.Path(),
					"panic": fmt.Sprint(r),
				})
				err = fiber.ErrInternalServerError
			}
		}()
		return c.Next()
	}
}

// handleError renders every error through the public error view.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"code": httpCode(fe.Code), "message": fe.Message})
	}

	status := apperrors.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error("request failed", map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
			"error":  err.Error(),
		})
	}
	return c.Status(status).JSON(apperrors.Public(err))
}

func httpCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return string(apperrors.ErrCodeNotFound)
	case fiber.StatusUnauthorized:
		return string(apperrors.ErrCodeAuthentication)
	case fiber.StatusForbidden:
		return string(apperrors.ErrCodeForbidden)
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return string(apperrors.ErrCodeValidation)
	default:
		if status >= fiber.StatusInternalServerError {
			return string(apperrors.ErrCodeDependencyFailure)
		}
		return fmt.Sprintf("HTTP_%d", status)
	}
}
