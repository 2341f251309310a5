package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"qrhub/internal/common"
)

const usernameKey = "username"

// TokenValidator is satisfied by *services.AuthService.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// AuthRequired rejects requests without a valid token in the Authorization
// header. Both "Bearer <token>" and a bare token are accepted.
func AuthRequired(v TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFromHeader(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return fmt.Errorf("%w: authorization header is required", common.ErrInvalidToken)
		}
		username, err := v.ValidateToken(token)
		if err != nil {
			return err
		}
		c.Locals(usernameKey, username)
		return c.Next()
	}
}

// OptionalAuth lets anonymous requests through but still rejects a token
// that is present and invalid.
func OptionalAuth(v TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFromHeader(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return c.Next()
		}
		username, err := v.ValidateToken(token)
		if err != nil {
			return err
		}
		c.Locals(usernameKey, username)
		return c.Next()
	}
}

// Username returns the authenticated username, or "" for anonymous requests.
func Username(c *fiber.Ctx) string {
	username, _ := c.Locals(usernameKey).(string)
	return username
}

func tokenFromHeader(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
