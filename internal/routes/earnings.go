package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/referral"
	"github.com/sharevest/sharevest/internal/withdrawal"
)

// RegisterReferralRoutes adds the caller's referral network and earnings.
func RegisterReferralRoutes(r fiber.Router, h *referral.Handler) {
	grp := r.Group("/referrals")
	grp.Get("/stats", h.Stats)
	grp.Get("/network", h.Network)
	grp.Get("/history", h.History)
}

// RegisterWithdrawalRoutes adds the payout request flow.
func RegisterWithdrawalRoutes(r fiber.Router, h *withdrawal.Handler) {
	grp := r.Group("/withdrawals")
	grp.Get("/balance", h.Balance)
	grp.Get("/restriction", h.RestrictionStatus)
	grp.Post("", h.Request)
	grp.Get("", h.List)
	grp.Get("/:id", h.Get)
	grp.Post("/:id/cancel", h.Cancel)
}
