package identity

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes profile and KYC endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds an identity handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Profile is the public projection of a user.
type Profile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	ReferralCode string    `json:"referral_code"`
	ReferredBy   string    `json:"referred_by,omitempty"`
	IsAdmin      bool      `json:"is_admin"`
	KYC          KYCStatus `json:"kyc_status"`
}

// NewProfile projects a user for API responses.
func NewProfile(u User) Profile {
	return Profile{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		ReferralCode: u.ReferralCode,
		ReferredBy:   u.ReferredBy,
		IsAdmin:      u.IsAdmin,
		KYC:          u.KYC,
	}
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	user, err := h.svc.Get(c.UserContext(), userID)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "profile", NewProfile(user))
}

type updateNameRequest struct {
	Name string `json:"name"`
}

// UpdateName changes the caller's display name.
func (h *Handler) UpdateName(c *fiber.Ctx) error {
	var req updateNameRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	userID, _ := c.Locals("user_id").(string)
	user, err := h.svc.UpdateName(c.UserContext(), userID, req.Name)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "name updated", NewProfile(user))
}

// SubmitKYC queues the caller for KYC review.
func (h *Handler) SubmitKYC(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	user, err := h.svc.SubmitKYC(c.UserContext(), userID)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "kyc submitted", NewProfile(user))
}

// AdminPendingKYC lists users awaiting KYC review.
func (h *Handler) AdminPendingKYC(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	users, err := h.svc.PendingKYC(c.UserContext(), limit)
	if err != nil {
		return respond.Error(c, err)
	}
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, NewProfile(u))
	}
	return respond.OK(c, "pending kyc", out)
}

type resolveKYCRequest struct {
	Approved bool `json:"approved"`
}

// AdminResolveKYC approves or rejects a pending submission.
func (h *Handler) AdminResolveKYC(c *fiber.Ctx) error {
	var req resolveKYCRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	user, err := h.svc.ResolveKYC(c.UserContext(), c.Params("user_id"), req.Approved)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "kyc resolved", NewProfile(user))
}

type banRequest struct {
	Banned bool `json:"banned"`
}

// AdminSetBanned toggles a user's banned flag.
func (h *Handler) AdminSetBanned(c *fiber.Ctx) error {
	var req banRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	user, err := h.svc.SetBanned(c.UserContext(), c.Params("user_id"), req.Banned)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "ban updated", NewProfile(user))
}
