package withdrawal

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes the withdrawal endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds a withdrawal handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Balance returns the caller's derived earnings balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.svc.Balance(c.UserContext(), userID(c))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "balance", balance)
}

type requestBody struct {
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Destination string `json:"destination"`
}

// Request opens a payout request.
func (h *Handler) Request(c *fiber.Ctx) error {
	var req requestBody
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	r, err := h.svc.Request(c.UserContext(), RequestInput{
		UserID:      userID(c),
		Amount:      req.Amount,
		Method:      req.Method,
		Destination: req.Destination,
	})
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.Created(c, "withdrawal requested", r)
}

// List returns the caller's requests.
func (h *Handler) List(c *fiber.Ctx) error {
	requests, err := h.svc.ByUser(c.UserContext(), userID(c))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "withdrawals", fiber.Map{"withdrawals": requests})
}

// Get returns one of the caller's requests.
func (h *Handler) Get(c *fiber.Ctx) error {
	r, err := h.svc.Get(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "withdrawal", r)
}

// Cancel closes the caller's pending request.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	r, err := h.svc.Cancel(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "withdrawal cancelled", r)
}

// RestrictionStatus reports whether the caller may withdraw right now.
func (h *Handler) RestrictionStatus(c *fiber.Ctx) error {
	restricted, restriction, err := h.svc.RestrictionStatus(c.UserContext(), userID(c), time.Now())
	if err != nil {
		return respond.Error(c, err)
	}
	data := fiber.Map{"restricted": restricted}
	if restriction != nil {
		data["restriction"] = restriction
	}
	return respond.OK(c, "restriction status", data)
}

// AdminProcess moves a pending request to processing.
func (h *Handler) AdminProcess(c *fiber.Ctx) error {
	r, err := h.svc.MarkProcessing(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "withdrawal processing", r)
}

type settleRequest struct {
	ProviderRef string `json:"provider_ref"`
	Reason      string `json:"reason"`
}

// AdminComplete settles a processing request.
func (h *Handler) AdminComplete(c *fiber.Ctx) error {
	var req settleRequest
	_ = c.BodyParser(&req)
	out, err := h.svc.Complete(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"), req.ProviderRef)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "withdrawal completed", fiber.Map{
		"withdrawal": out.Request,
		"entry_id":   out.Entry.ID,
	})
}

// AdminFail closes a processing request whose payout never left.
func (h *Handler) AdminFail(c *fiber.Ctx) error {
	var req settleRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return respond.Error(c, apperr.Validation("a failure reason is required"))
	}
	r, err := h.svc.Fail(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "withdrawal failed", r)
}

// AdminRefund compensates a completed request whose payout bounced.
func (h *Handler) AdminRefund(c *fiber.Ctx) error {
	var req settleRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return respond.Error(c, apperr.Validation("a refund reason is required"))
	}
	out, err := h.svc.Refund(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "withdrawal refunded", fiber.Map{
		"withdrawal": out.Request,
		"entry_id":   out.Entry.ID,
	})
}

type restrictRequest struct {
	UserID   string `json:"user_id"`
	Scope    string `json:"scope"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
	Reason   string `json:"reason"`
}

// AdminRestrict blocks a user's withdrawals.
func (h *Handler) AdminRestrict(c *fiber.Ctx) error {
	var req restrictRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	in := RestrictInput{
		UserID: req.UserID,
		Scope:  RestrictionScope(req.Scope),
		Reason: req.Reason,
	}
	if req.StartsAt != "" {
		at, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			return respond.Error(c, apperr.Validation("starts_at must be RFC 3339"))
		}
		in.StartsAt = &at
	}
	if req.EndsAt != "" {
		at, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			return respond.Error(c, apperr.Validation("ends_at must be RFC 3339"))
		}
		in.EndsAt = &at
	}
	r, err := h.svc.Restrict(c.UserContext(), audit.ActorFromCtx(c), in)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.Created(c, "restriction set", r)
}

// AdminUnrestrict lifts a user's restriction.
func (h *Handler) AdminUnrestrict(c *fiber.Ctx) error {
	var req restrictRequest
	_ = c.BodyParser(&req)
	r, err := h.svc.Unrestrict(c.UserContext(), audit.ActorFromCtx(c), c.Params("user_id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "restriction lifted", r)
}

// AdminRestrictions returns a user's restriction history.
func (h *Handler) AdminRestrictions(c *fiber.Ctx) error {
	history, err := h.svc.RestrictionHistory(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "restrictions", fiber.Map{"restrictions": history})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
