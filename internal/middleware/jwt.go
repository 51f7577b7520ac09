package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/auth"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/respond"
)

// JWTAuth validates bearer tokens, rejects banned accounts and stores the
// caller identity in request locals.
func JWTAuth(tokens *auth.Service, repo identity.Repository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return respond.Error(c, apperr.Unauthorized("missing bearer token"))
		}
		claims, err := tokens.Verify(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return respond.Error(c, err)
		}

		user, err := repo.FindByID(c.UserContext(), claims.Subject)
		if err != nil {
			return respond.Error(c, apperr.Unauthorized("unknown user"))
		}
		if user.IsBanned {
			return respond.Error(c, apperr.Forbidden("account is banned"))
		}

		c.Locals("user_id", user.ID)
		c.Locals("is_admin", user.IsAdmin)
		return c.Next()
	}
}

// RequireAdmin gates a route group to admin accounts. Must run after JWTAuth.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isAdmin, _ := c.Locals("is_admin").(bool); !isAdmin {
			return respond.Error(c, apperr.Forbidden("admin access required"))
		}
		return c.Next()
	}
}
