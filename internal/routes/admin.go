package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/installment"
	"github.com/sharevest/sharevest/internal/market"
	"github.com/sharevest/sharevest/internal/middleware"
	"github.com/sharevest/sharevest/internal/overview"
	"github.com/sharevest/sharevest/internal/pricing"
	"github.com/sharevest/sharevest/internal/purchase"
	"github.com/sharevest/sharevest/internal/referral"
	"github.com/sharevest/sharevest/internal/withdrawal"
)

type adminHandlers struct {
	purchases *purchase.Handler
	plans     *installment.Handler
	offers    *market.Handler
	payouts   *withdrawal.Handler
	users     *identity.Handler
	prices    *pricing.Handler
	referrals *referral.Handler
	views     *overview.Handler
	trail     *audit.Handler
}

// RegisterAdminRoutes adds the operator surface behind the admin gate.
func RegisterAdminRoutes(r fiber.Router, h adminHandlers) {
	admin := r.Group("/admin", middleware.RequireAdmin())

	admin.Get("/overview", h.views.System)
	admin.Get("/overview/users/:user_id", h.views.User)

	admin.Post("/purchases/:id/verify", h.purchases.AdminVerify)
	admin.Post("/purchases/:id/reject", h.purchases.AdminReject)
	admin.Post("/purchases/:id/reverse", h.purchases.AdminReverse)
	admin.Get("/purchases/:id/proof", h.purchases.AdminProof)

	admin.Post("/installments/verify", h.plans.AdminVerify)
	admin.Post("/installments/unverify", h.plans.AdminUnverify)
	admin.Post("/installments/sweep", h.plans.AdminSweep)
	admin.Get("/installments/proofs/:ref", h.plans.AdminProof)
	admin.Post("/installments/:id/cancel", h.plans.AdminCancel)

	admin.Get("/market/stuck", h.offers.AdminStuck)
	admin.Post("/market/offers/:id/cancel", h.offers.AdminCancelOffer)

	admin.Post("/withdrawals/restrictions", h.payouts.AdminRestrict)
	admin.Get("/withdrawals/restrictions/:user_id", h.payouts.AdminRestrictions)
	admin.Delete("/withdrawals/restrictions/:user_id", h.payouts.AdminUnrestrict)
	admin.Post("/withdrawals/:id/process", h.payouts.AdminProcess)
	admin.Post("/withdrawals/:id/complete", h.payouts.AdminComplete)
	admin.Post("/withdrawals/:id/fail", h.payouts.AdminFail)
	admin.Post("/withdrawals/:id/refund", h.payouts.AdminRefund)

	admin.Get("/kyc/pending", h.users.AdminPendingKYC)
	admin.Post("/kyc/:user_id/resolve", h.users.AdminResolveKYC)
	admin.Post("/users/:user_id/ban", h.users.AdminSetBanned)

	admin.Patch("/pricing", h.prices.AdminUpdate)
	admin.Get("/pricing/versions/:version", h.prices.ByVersion)

	admin.Post("/referrals/audit", h.referrals.Audit)
	admin.Post("/referrals/reconcile", h.referrals.Reconcile)

	admin.Get("/audit/admins/:admin_id", h.trail.ByAdmin)
	admin.Get("/audit/users/:user_id", h.trail.ByUser)
}
