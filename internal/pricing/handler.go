package pricing

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes the published configuration and the admin update surface.
type Handler struct {
	svc *Service
}

// NewHandler builds a pricing handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func snapshotView(s Snapshot) fiber.Map {
	tiers := make([]fiber.Map, 0, len(s.Tiers))
	for i, t := range s.Tiers {
		tiers = append(tiers, fiber.Map{
			"tier":         i + 1,
			"capacity":     t.Capacity,
			"price_fiat":   t.PriceFiat,
			"price_stable": t.PriceStable,
		})
	}
	return fiber.Map{
		"version":                s.Version,
		"tiers":                  tiers,
		"cofounder_total":        s.CofounderTotal,
		"cofounder_price_fiat":   s.CofounderPriceFiat,
		"cofounder_price_stable": s.CofounderPriceStable,
		"cofounder_ratio":        s.CofounderRatio,
		"commission_rates":       s.CommissionRates,
		"withdrawal": fiber.Map{
			"enabled":     s.Withdrawal.Enabled,
			"minimum":     s.Withdrawal.Minimum,
			"daily_cap":   s.Withdrawal.DailyCap,
			"fee_percent": s.Withdrawal.FeePercent,
		},
		"late_fee_percent":         s.LateFeePercent,
		"late_fee_cap_percent":     s.LateFeeCapPercent,
		"installment_min_months":   s.InstallmentMinMonths,
		"installment_max_months":   s.InstallmentMaxMonths,
		"installment_min_down_pct": s.InstallmentMinDownPct,
		"installment_grace_days":   s.InstallmentGraceDays,
		"updated_by":               s.UpdatedBy,
		"created_at":               s.CreatedAt,
	}
}

// Current returns the live configuration version.
func (h *Handler) Current(c *fiber.Ctx) error {
	snap, err := h.svc.Snapshot(c.UserContext())
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "pricing", snapshotView(snap))
}

// ByVersion returns a historical configuration version. Admin only.
func (h *Handler) ByVersion(c *fiber.Ctx) error {
	version, err := strconv.ParseInt(c.Params("version"), 10, 64)
	if err != nil {
		return respond.Error(c, apperr.Validation("invalid version"))
	}
	snap, err := h.svc.ByVersion(c.UserContext(), version)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "pricing version", snapshotView(snap))
}

type tierUpdateRequest struct {
	Capacity    *int64 `json:"capacity"`
	PriceFiat   *int64 `json:"price_fiat"`
	PriceStable *int64 `json:"price_stable"`
}

type updateRequest struct {
	Tiers [3]tierUpdateRequest `json:"tiers"`

	CofounderTotal       *int64 `json:"cofounder_total"`
	CofounderPriceFiat   *int64 `json:"cofounder_price_fiat"`
	CofounderPriceStable *int64 `json:"cofounder_price_stable"`
	CofounderRatio       *int64 `json:"cofounder_ratio"`

	CommissionRates [3]*int64 `json:"commission_rates"`

	WithdrawalEnabled    *bool  `json:"withdrawal_enabled"`
	WithdrawalMinimum    *int64 `json:"withdrawal_minimum"`
	WithdrawalDailyCap   *int   `json:"withdrawal_daily_cap"`
	WithdrawalFeePercent *int64 `json:"withdrawal_fee_percent"`

	LateFeePercent        *int64 `json:"late_fee_percent"`
	LateFeeCapPercent     *int64 `json:"late_fee_cap_percent"`
	InstallmentMinMonths  *int   `json:"installment_min_months"`
	InstallmentMaxMonths  *int   `json:"installment_max_months"`
	InstallmentMinDownPct *int64 `json:"installment_min_down_pct"`
	InstallmentGraceDays  *int   `json:"installment_grace_days"`
}

// AdminUpdate overlays the provided fields onto a new configuration version.
func (h *Handler) AdminUpdate(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	update := Update{
		CofounderTotal:        req.CofounderTotal,
		CofounderPriceFiat:    req.CofounderPriceFiat,
		CofounderPriceStable:  req.CofounderPriceStable,
		CofounderRatio:        req.CofounderRatio,
		CommissionRates:       req.CommissionRates,
		WithdrawalEnabled:     req.WithdrawalEnabled,
		WithdrawalMinimum:     req.WithdrawalMinimum,
		WithdrawalDailyCap:    req.WithdrawalDailyCap,
		WithdrawalFeePercent:  req.WithdrawalFeePercent,
		LateFeePercent:        req.LateFeePercent,
		LateFeeCapPercent:     req.LateFeeCapPercent,
		InstallmentMinMonths:  req.InstallmentMinMonths,
		InstallmentMaxMonths:  req.InstallmentMaxMonths,
		InstallmentMinDownPct: req.InstallmentMinDownPct,
		InstallmentGraceDays:  req.InstallmentGraceDays,
	}
	for i := range req.Tiers {
		update.Tiers[i] = TierUpdate{
			Capacity:    req.Tiers[i].Capacity,
			PriceFiat:   req.Tiers[i].PriceFiat,
			PriceStable: req.Tiers[i].PriceStable,
		}
	}
	snap, err := h.svc.ApplyUpdate(c.UserContext(), audit.ActorFromCtx(c), update)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "pricing updated", snapshotView(snap))
}
