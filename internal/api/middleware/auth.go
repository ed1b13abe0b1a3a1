package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/MIK-RC/aws-aiops/internal/security"
)

const (
	localSubject = "subject"
	localClaims  = "claims"
)

// AuthMiddleware creates a middleware for service token authentication.
// With a nil token service every request passes as "anonymous".
func AuthMiddleware(tokens *security.TokenService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokens == nil {
			c.Locals(localSubject, "anonymous")
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization header",
			})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}

		claims, err := tokens.Validate(parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		c.Locals(localSubject, claims.Subject)
		c.Locals(localClaims, claims)
		return c.Next()
	}
}

// RequireScope rejects tokens without scope. Requests let through by a
// nil token service carry no claims and pass.
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(localClaims).(*security.Claims)
		if ok && !claims.Allows(scope) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "token lacks the " + scope + " scope",
			})
		}
		return c.Next()
	}
}

// GetSubject gets the authenticated caller from the context
func GetSubject(c *fiber.Ctx) string {
	subject, ok := c.Locals(localSubject).(string)
	if !ok {
		return ""
	}
	return subject
}
