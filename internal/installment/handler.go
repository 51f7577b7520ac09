package installment

import (
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/blob"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes the installment endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds an installment handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createRequest struct {
	Kind     string `json:"kind"`
	Quantity int64  `json:"quantity"`
	Currency string `json:"currency"`
	Months   int    `json:"months"`
}

// Create opens an installment plan.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	currency, err := money.Parse(req.Currency)
	if err != nil {
		return respond.Error(c, err)
	}
	userID, _ := c.Locals("user_id").(string)
	plan, items, err := h.svc.Create(c.UserContext(), CreateInput{
		UserID:   userID,
		Kind:     ledger.ShareKind(req.Kind),
		Quantity: req.Quantity,
		Currency: currency,
		Months:   req.Months,
	})
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.Created(c, "installment plan opened", planData(plan, items))
}

// List returns the caller's plans.
func (h *Handler) List(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	plans, err := h.svc.ByUser(c.UserContext(), userID)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "plans", fiber.Map{"plans": plans})
}

// Get returns one plan with its schedule.
func (h *Handler) Get(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	plan, items, err := h.svc.Get(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "plan", planData(plan, items))
}

type payRequest struct {
	Index  int    `json:"index" form:"index"`
	Amount int64  `json:"amount" form:"amount"`
	Method string `json:"method" form:"method"`
	TxHash string `json:"tx_hash" form:"tx_hash"`
}

// Pay opens a payment on the plan. Manual payments attach the proof as the
// multipart file field "proof".
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req payRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	userID, _ := c.Locals("user_id").(string)
	in := PayInput{
		UserID: userID,
		PlanID: c.Params("id"),
		Index:  req.Index,
		Amount: req.Amount,
		Method: ledger.PaymentMethod(req.Method),
		TxHash: req.TxHash,
	}
	if in.Method == ledger.MethodManual {
		proof, mime, name, err := proofUpload(c)
		if err != nil {
			return respond.Error(c, err)
		}
		in.Proof, in.ProofMIME, in.ProofName = proof, mime, name
	}

	result, err := h.svc.Pay(c.UserContext(), in)
	if err != nil {
		return respond.Error(c, err)
	}
	data := fiber.Map{
		"index":     result.Item.Index,
		"amount":    result.Item.PaidAmount,
		"reference": result.Item.ExternalRef,
		"status":    result.Item.Status,
	}
	if result.Payment != nil {
		data["authorization_url"] = result.Payment.AuthorizationURL
		data["access_code"] = result.Payment.AccessCode
	}
	return respond.Created(c, "installment payment opened", data)
}

type verifyRequest struct {
	Reference string `json:"reference"`
	Force     bool   `json:"force"`
	Reason    string `json:"reason"`
}

// Verify settles a payment by its external reference.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil || req.Reference == "" {
		return respond.Error(c, apperr.Validation("reference is required"))
	}
	userID, _ := c.Locals("user_id").(string)
	out, err := h.svc.Verify(c.UserContext(), userID, req.Reference)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "installment payment verified", paymentData(out))
}

// Cancel closes the caller's plan.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	plan, err := h.svc.Cancel(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "plan cancelled", fiber.Map{"plan_id": plan.ID, "state": plan.State})
}

// AdminVerify settles a payment after review, optionally forcing approval.
func (h *Handler) AdminVerify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil || req.Reference == "" {
		return respond.Error(c, apperr.Validation("reference is required"))
	}
	out, err := h.svc.AdminVerify(c.UserContext(), audit.ActorFromCtx(c), req.Reference, req.Force)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "installment payment verified", paymentData(out))
}

// AdminUnverify reverses a settled payment.
func (h *Handler) AdminUnverify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil || req.Reference == "" {
		return respond.Error(c, apperr.Validation("reference is required"))
	}
	out, err := h.svc.AdminUnverify(c.UserContext(), audit.ActorFromCtx(c), req.Reference, req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "installment payment reversed", fiber.Map{
		"plan_id":       out.Plan.ID,
		"state":         out.Plan.State,
		"clawed_shares": out.ClawedShares,
		"reversal_id":   out.Reversal.ID,
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// AdminCancel closes any open plan with a reason.
func (h *Handler) AdminCancel(c *fiber.Ctx) error {
	var req cancelRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return respond.Error(c, apperr.Validation("a cancellation reason is required"))
	}
	plan, err := h.svc.AdminCancel(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "plan cancelled", fiber.Map{"plan_id": plan.ID, "state": plan.State})
}

// AdminSweep runs the overdue sweep on demand.
func (h *Handler) AdminSweep(c *fiber.Ctx) error {
	result, err := h.svc.SweepOverdue(c.UserContext(), time.Now())
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "sweep complete", result)
}

// AdminProof streams the manual-payment evidence of an installment.
func (h *Handler) AdminProof(c *fiber.Ctx) error {
	obj, err := h.svc.Proof(c.UserContext(), c.Params("ref"))
	if err != nil {
		return respond.Error(c, err)
	}
	c.Set(fiber.HeaderContentType, obj.MIME)
	return c.Send(obj.Bytes)
}

func planData(plan Plan, items []Item) fiber.Map {
	return fiber.Map{
		"plan":            plan,
		"schedule":        items,
		"remaining":       plan.Remaining(),
		"released_shares": plan.ReleasedShares,
	}
}

func paymentData(out PaymentOutcome) fiber.Map {
	return fiber.Map{
		"plan_id":         out.Plan.ID,
		"state":           out.Plan.State,
		"index":           out.Item.Index,
		"applied":         out.Applied,
		"released_delta":  out.ReleasedDelta,
		"released_shares": out.Plan.ReleasedShares,
		"paid_amount":     out.Plan.PaidAmount,
	}
}

func proofUpload(c *fiber.Ctx) ([]byte, string, string, error) {
	file, err := c.FormFile("proof")
	if err != nil {
		return nil, "", "", apperr.Validation("a proof file is required for manual payments")
	}
	if file.Size > blob.MaxSize {
		return nil, "", "", apperr.Validation("proof exceeds %d bytes", int64(blob.MaxSize))
	}
	src, err := file.Open()
	if err != nil {
		return nil, "", "", apperr.Internal("opening upload: %v", err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", "", apperr.Internal("reading upload: %v", err)
	}
	return data, file.Header.Get("Content-Type"), file.Filename, nil
}
