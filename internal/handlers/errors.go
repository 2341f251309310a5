package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"qrhub/internal/common"
	"qrhub/internal/logging"
)

// statusFor maps an error to its HTTP status and the message shown to the
// client. Internal error text never leaves the process.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrValidation):
		return fiber.StatusBadRequest, "invalid request"
	case errors.Is(err, common.ErrDuplicate):
		return fiber.StatusConflict, "username or email already registered"
	case errors.Is(err, common.ErrAuth):
		return fiber.StatusUnauthorized, common.ErrAuth.Error()
	case errors.Is(err, common.ErrExpiredToken):
		return fiber.StatusUnauthorized, common.ErrExpiredToken.Error()
	case errors.Is(err, common.ErrInvalidToken):
		return fiber.StatusUnauthorized, common.ErrInvalidToken.Error()
	case errors.Is(err, common.ErrNotFound):
		return fiber.StatusNotFound, common.ErrNotFound.Error()
	}

	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return fe.Code, fe.Message
	}
	return fiber.StatusInternalServerError, "internal server error"
}

// ErrorHandler is installed as the fiber.Config ErrorHandler so handlers and
// middleware can simply return wrapped errors.
func ErrorHandler(log logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, message := statusFor(err)
		attrs := []any{"method", c.Method(), "path", c.Path(), "status", status, "error", err}
		if status >= fiber.StatusInternalServerError {
			log.Error(c.UserContext(), "request failed", attrs...)
		} else {
			log.Debug(c.UserContext(), "request rejected", attrs...)
		}
		return c.Status(status).JSON(fiber.Map{"error": message})
	}
}
