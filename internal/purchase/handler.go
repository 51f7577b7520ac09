package purchase

import (
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/blob"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes the purchase endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds a purchase handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Availability reports purchasable shares and current prices.
func (h *Handler) Availability(c *fiber.Ctx) error {
	avail, snap, err := h.svc.Availability(c.UserContext())
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "availability", fiber.Map{
		"tiers":            avail.Tiers,
		"total":            avail.Total,
		"cofounder":        avail.Cofounder,
		"pricing_version":  snap.Version,
		"tier_prices":      snap.Tiers,
		"cofounder_ratio":  snap.CofounderRatio,
		"cofounder_prices": fiber.Map{"fiat": snap.CofounderPriceFiat, "stable": snap.CofounderPriceStable},
	})
}

type quoteRequest struct {
	Kind     string `json:"kind"`
	Quantity int64  `json:"quantity"`
	Currency string `json:"currency"`
}

// Quote prices a prospective purchase.
func (h *Handler) Quote(c *fiber.Ctx) error {
	var req quoteRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	currency, err := money.Parse(req.Currency)
	if err != nil {
		return respond.Error(c, err)
	}
	res, err := h.svc.Quote(c.UserContext(), ledger.ShareKind(req.Kind), req.Quantity, currency)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "quote", res)
}

type buyRequest struct {
	Kind        string `json:"kind" form:"kind"`
	Quantity    int64  `json:"quantity" form:"quantity"`
	Currency    string `json:"currency" form:"currency"`
	Method      string `json:"method" form:"method"`
	TxHash      string `json:"tx_hash" form:"tx_hash"`
	CallbackURL string `json:"callback_url" form:"callback_url"`
}

// Buy opens a purchase intent. Manual payments attach the proof as the
// multipart file field "proof".
func (h *Handler) Buy(c *fiber.Ctx) error {
	var req buyRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	currency, err := money.Parse(req.Currency)
	if err != nil {
		return respond.Error(c, err)
	}
	userID, _ := c.Locals("user_id").(string)
	in := BuyInput{
		UserID:      userID,
		Kind:        ledger.ShareKind(req.Kind),
		Quantity:    req.Quantity,
		Currency:    currency,
		Method:      ledger.PaymentMethod(req.Method),
		TxHash:      req.TxHash,
		CallbackURL: req.CallbackURL,
	}
	if in.Method == ledger.MethodManual {
		proof, mime, name, err := proofUpload(c)
		if err != nil {
			return respond.Error(c, err)
		}
		in.Proof, in.ProofMIME, in.ProofName = proof, mime, name
	}

	result, err := h.svc.Buy(c.UserContext(), in)
	if err != nil {
		return respond.Error(c, err)
	}
	data := fiber.Map{
		"entry_id":  result.Entry.ID,
		"reference": result.Entry.Reference,
		"amount":    result.Entry.Amount,
		"currency":  result.Entry.Currency,
		"tiers":     result.Reservation.Tiers,
		"status":    result.Entry.Status,
	}
	if result.Payment != nil {
		data["authorization_url"] = result.Payment.AuthorizationURL
		data["access_code"] = result.Payment.AccessCode
	}
	return respond.Created(c, "purchase intent opened", data)
}

type verifyRequest struct {
	Reference string `json:"reference"`
	EntryID   string `json:"entry_id"`
}

// Verify settles a gateway purchase by its reference.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil || req.Reference == "" {
		return respond.Error(c, apperr.Validation("reference is required"))
	}
	userID, _ := c.Locals("user_id").(string)
	out, err := h.svc.VerifyGateway(c.UserContext(), userID, req.Reference)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "purchase verified", verifyData(out))
}

// VerifyStablecoin settles a stablecoin purchase by entry id.
func (h *Handler) VerifyStablecoin(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil || req.EntryID == "" {
		return respond.Error(c, apperr.Validation("entry_id is required"))
	}
	userID, _ := c.Locals("user_id").(string)
	out, err := h.svc.VerifyStablecoin(c.UserContext(), userID, req.EntryID)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "purchase verified", verifyData(out))
}

// AdminVerify settles a pending intent after manual review.
func (h *Handler) AdminVerify(c *fiber.Ctx) error {
	out, err := h.svc.AdminVerify(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "purchase verified", verifyData(out))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// AdminReject fails a pending intent after manual review.
func (h *Handler) AdminReject(c *fiber.Ctx) error {
	var req reasonRequest
	_ = c.BodyParser(&req)
	entry, err := h.svc.AdminReject(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "purchase rejected", fiber.Map{"entry_id": entry.ID, "status": entry.Status})
}

// AdminReverse compensates a completed purchase.
func (h *Handler) AdminReverse(c *fiber.Ctx) error {
	var req reasonRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return respond.Error(c, apperr.Validation("a reversal reason is required"))
	}
	out, err := h.svc.AdminReverse(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "purchase reversed", fiber.Map{
		"entry_id":    out.Entry.ID,
		"status":      out.Entry.Status,
		"reversal_id": out.Reversal.ID,
	})
}

// AdminProof streams the manual-payment evidence of an intent.
func (h *Handler) AdminProof(c *fiber.Ctx) error {
	obj, err := h.svc.Proof(c.UserContext(), c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	c.Set(fiber.HeaderContentType, obj.MIME)
	return c.Send(obj.Bytes)
}

func verifyData(out Outcome) fiber.Map {
	return fiber.Map{
		"entry_id": out.Entry.ID,
		"status":   out.Entry.Status,
		"applied":  out.Applied,
		"holding": fiber.Map{
			"regular_total":   out.Holding.RegularTotal,
			"cofounder_total": out.Holding.CofounderTotal,
		},
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
