package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/market"
)

// RegisterMarketRoutes adds the resale marketplace.
func RegisterMarketRoutes(r fiber.Router, h *market.Handler) {
	grp := r.Group("/market")
	grp.Post("/listings", h.CreateListing)
	grp.Get("/listings", h.Listings)
	grp.Get("/listings/mine", h.MyListings)
	grp.Post("/listings/:id/cancel", h.CancelListing)
	grp.Post("/listings/:id/offers", h.CreateOffer)
	grp.Get("/listings/:id/offers", h.ListingOffers)
	grp.Get("/offers/mine", h.MyOffers)
	grp.Post("/offers/verify", h.Verify)
	grp.Post("/offers/:id/accept", h.Accept)
	grp.Post("/offers/:id/cancel", h.CancelOffer)
	grp.Post("/offers/:id/dispute", h.Dispute)
	grp.Post("/offers/:id/pay", h.Pay)
}
