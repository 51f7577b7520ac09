package overview

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes the dashboard endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds an overview handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// System returns the admin dashboard report.
func (h *Handler) System(c *fiber.Ctx) error {
	report, err := h.svc.System(c.UserContext())
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "system overview", report)
}

// User returns the support view of one user.
func (h *Handler) User(c *fiber.Ctx) error {
	report, err := h.svc.User(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "user overview", report)
}

// Me returns the caller's own overview.
func (h *Handler) Me(c *fiber.Ctx) error {
	id, _ := c.Locals("user_id").(string)
	report, err := h.svc.User(c.UserContext(), id)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "overview", report)
}
