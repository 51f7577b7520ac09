package audit

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes the admin action trail. Admin only.
type Handler struct {
	svc *Service
}

// NewHandler builds an audit handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ByAdmin lists actions performed by one admin, newest first.
func (h *Handler) ByAdmin(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	entries, err := h.svc.ByAdmin(c.UserContext(), c.Params("admin_id"), limit)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "audit trail", fiber.Map{"entries": entries})
}

// ByUser lists actions that targeted one user, newest first.
func (h *Handler) ByUser(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	entries, err := h.svc.ByTargetUser(c.UserContext(), c.Params("user_id"), limit)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "audit trail", fiber.Map{"entries": entries})
}
