package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/overview"
)

// RegisterAccountRoutes adds the caller's profile and dashboard endpoints.
func RegisterAccountRoutes(r fiber.Router, ids *identity.Handler, views *overview.Handler) {
	me := r.Group("/me")
	me.Get("", ids.Me)
	me.Patch("/name", ids.UpdateName)
	me.Post("/kyc", ids.SubmitKYC)
	me.Get("/overview", views.Me)
}
