package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/MagnunAVF/shortlinks/internal"
)

const callerKey = "auth.caller"

// Middleware rejects requests without a valid bearer token and stores the
// caller for Caller.
func Middleware(issuer *Issuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
		}

		caller, err := issuer.Verify(strings.TrimSpace(token))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}

		c.Locals(callerKey, caller)
		return c.Next()
	}
}

// Caller returns the principal set by Middleware.
func Caller(c *fiber.Ctx) (internal.Caller, bool) {
	caller, ok := c.Locals(callerKey).(internal.Caller)
	return caller, ok
}
