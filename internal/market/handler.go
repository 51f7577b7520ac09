package market

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes the marketplace endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds a market handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type listRequest struct {
	Kind          string `json:"kind"`
	Shares        int64  `json:"shares"`
	PricePerShare int64  `json:"price_per_share"`
	Currency      string `json:"currency"`
	ExpiresAt     string `json:"expires_at"`
}

// CreateListing opens a listing.
func (h *Handler) CreateListing(c *fiber.Ctx) error {
	var req listRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	currency, err := money.Parse(req.Currency)
	if err != nil {
		return respond.Error(c, err)
	}
	in := ListInput{
		SellerID:      userID(c),
		Kind:          ledger.ShareKind(req.Kind),
		Shares:        req.Shares,
		PricePerShare: req.PricePerShare,
		Currency:      currency,
	}
	if req.ExpiresAt != "" {
		at, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return respond.Error(c, apperr.Validation("expires_at must be RFC 3339"))
		}
		in.ExpiresAt = &at
	}
	listing, err := h.svc.List(c.UserContext(), in)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.Created(c, "listing opened", listing)
}

// Listings returns the active listings.
func (h *Handler) Listings(c *fiber.Ctx) error {
	listings, err := h.svc.Listings(c.UserContext(), c.QueryInt("limit"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "listings", fiber.Map{"listings": listings})
}

// MyListings returns the caller's listings.
func (h *Handler) MyListings(c *fiber.Ctx) error {
	listings, err := h.svc.BySeller(c.UserContext(), userID(c))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "listings", fiber.Map{"listings": listings})
}

// CancelListing closes the caller's listing.
func (h *Handler) CancelListing(c *fiber.Ctx) error {
	listing, err := h.svc.CancelListing(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "listing cancelled", listing)
}

type offerRequest struct {
	Shares int64 `json:"shares"`
}

// CreateOffer opens a pending offer against a listing.
func (h *Handler) CreateOffer(c *fiber.Ctx) error {
	var req offerRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	offer, err := h.svc.Offer(c.UserContext(), userID(c), c.Params("id"), req.Shares)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.Created(c, "offer opened", offer)
}

// ListingOffers returns a listing's offers to its seller.
func (h *Handler) ListingOffers(c *fiber.Ctx) error {
	offers, err := h.svc.OffersForListing(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "offers", fiber.Map{"offers": offers})
}

// MyOffers returns the caller's offers on both sides.
func (h *Handler) MyOffers(c *fiber.Ctx) error {
	asBuyer, asSeller, err := h.svc.MyOffers(c.UserContext(), userID(c))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "offers", fiber.Map{"as_buyer": asBuyer, "as_seller": asSeller})
}

// Accept commits the seller to an offer.
func (h *Handler) Accept(c *fiber.Ctx) error {
	out, err := h.svc.Accept(c.UserContext(), userID(c), c.Params("id"))
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "offer accepted", fiber.Map{
		"offer":         out.Offer,
		"auto_rejected": len(out.Rejected),
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CancelOffer closes a pending or accepted offer.
func (h *Handler) CancelOffer(c *fiber.Ctx) error {
	var req reasonRequest
	_ = c.BodyParser(&req)
	offer, err := h.svc.CancelOffer(c.UserContext(), userID(c), c.Params("id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "offer cancelled", offer)
}

// Dispute flags an offer for admin resolution.
func (h *Handler) Dispute(c *fiber.Ctx) error {
	var req reasonRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return respond.Error(c, apperr.Validation("a dispute reason is required"))
	}
	offer, err := h.svc.Dispute(c.UserContext(), userID(c), c.Params("id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "offer disputed", offer)
}

type payRequest struct {
	Method string `json:"method"`
	TxHash string `json:"tx_hash"`
}

// Pay moves an accepted offer into payment.
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req payRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	result, err := h.svc.Pay(c.UserContext(), PayInput{
		BuyerID: userID(c),
		OfferID: c.Params("id"),
		Method:  ledger.PaymentMethod(req.Method),
		TxHash:  req.TxHash,
	})
	if err != nil {
		return respond.Error(c, err)
	}
	data := fiber.Map{
		"offer_id":  result.Offer.ID,
		"reference": result.Offer.ExternalRef,
		"total":     result.Offer.Total,
		"status":    result.Offer.Status,
	}
	if result.Payment != nil {
		data["authorization_url"] = result.Payment.AuthorizationURL
		data["access_code"] = result.Payment.AccessCode
	}
	return respond.Created(c, "offer payment opened", data)
}

type verifyRequest struct {
	Reference string `json:"reference"`
}

// Verify settles an offer payment and transfers the shares.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil || req.Reference == "" {
		return respond.Error(c, apperr.Validation("reference is required"))
	}
	out, err := h.svc.Verify(c.UserContext(), userID(c), req.Reference)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "transfer settled", fiber.Map{
		"offer":    out.Offer,
		"listing":  out.Listing,
		"entry_id": out.Entry.ID,
		"applied":  out.Applied,
	})
}

// AdminStuck lists offers idle beyond the review window.
func (h *Handler) AdminStuck(c *fiber.Ctx) error {
	stuck, err := h.svc.Stuck(c.UserContext(), time.Now())
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "stuck offers", fiber.Map{"offers": stuck, "count": len(stuck)})
}

// AdminCancelOffer closes any non-terminal offer.
func (h *Handler) AdminCancelOffer(c *fiber.Ctx) error {
	var req reasonRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return respond.Error(c, apperr.Validation("a cancellation reason is required"))
	}
	offer, err := h.svc.AdminCancelOffer(c.UserContext(), audit.ActorFromCtx(c), c.Params("id"), req.Reason)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "offer cancelled", offer)
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
