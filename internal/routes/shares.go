package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/installment"
	"github.com/sharevest/sharevest/internal/purchase"
)

// RegisterShareRoutes adds the direct purchase flow.
func RegisterShareRoutes(r fiber.Router, h *purchase.Handler) {
	grp := r.Group("/shares")
	grp.Post("/quote", h.Quote)
	grp.Post("/buy", h.Buy)
	grp.Post("/verify", h.Verify)
	grp.Post("/verify-stablecoin", h.VerifyStablecoin)
}

// RegisterInstallmentRoutes adds the installment plan flow. Static paths go
// first so they are not captured by the :id parameter.
func RegisterInstallmentRoutes(r fiber.Router, h *installment.Handler) {
	grp := r.Group("/installments")
	grp.Post("", h.Create)
	grp.Get("", h.List)
	grp.Post("/verify", h.Verify)
	grp.Get("/:id", h.Get)
	grp.Post("/:id/pay", h.Pay)
	grp.Post("/:id/cancel", h.Cancel)
}
