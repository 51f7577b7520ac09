package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/auth"
)

// RegisterAuthRoutes adds the public signup and login endpoints. Login runs
// behind the rate limiter.
func RegisterAuthRoutes(api fiber.Router, h *auth.Handler, limit fiber.Handler) {
	grp := api.Group("/auth")
	grp.Post("/signup", h.Signup)
	grp.Post("/login", limit, h.Login)
}
