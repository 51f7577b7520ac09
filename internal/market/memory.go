package market

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/ledger"
)

// MemoryStore composes the in-memory ledger and holding stores with listing
// and offer state under one mutex.
type MemoryStore struct {
	mu         sync.Mutex
	listings   map[string]Listing
	offers     map[string]Offer
	listOrder  []string
	offerOrder []string
	ledger     *ledger.MemoryStore
	holdings   *holding.MemoryStore
}

// NewMemoryStore wires a memory market store over shared sub-stores.
func NewMemoryStore(led *ledger.MemoryStore, holdings *holding.MemoryStore) *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]Listing),
		offers:   make(map[string]Offer),
		ledger:   led,
		holdings: holdings,
	}
}

// CreateListing implements Store.
func (s *MemoryStore) CreateListing(_ context.Context, l Listing) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.holdings.Update(l.SellerID, func(h *holding.Holding) error {
		return h.ReserveListed(l.Kind, l.SharesOffered)
	}); err != nil {
		return Listing{}, err
	}

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	s.listings[l.ID] = l
	s.listOrder = append(s.listOrder, l.ID)
	return l, nil
}

// GetListing implements Store.
func (s *MemoryStore) GetListing(_ context.Context, id string) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return Listing{}, apperr.NotFound("listing %s", id)
	}
	return l, nil
}

// ActiveListings implements Store, newest first.
func (s *MemoryStore) ActiveListings(_ context.Context, limit int) ([]Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	var out []Listing
	for i := len(s.listOrder) - 1; i >= 0 && len(out) < limit; i-- {
		if l := s.listings[s.listOrder[i]]; l.Status == ListingActive {
			out = append(out, l)
		}
	}
	return out, nil
}

// ListingsBySeller implements Store.
func (s *MemoryStore) ListingsBySeller(_ context.Context, sellerID string) ([]Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Listing
	for _, id := range s.listOrder {
		if l := s.listings[id]; l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	return out, nil
}

// CancelListing implements Store.
func (s *MemoryStore) CancelListing(_ context.Context, listingID string, now time.Time) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingID]
	if !ok {
		return Listing{}, apperr.NotFound("listing %s", listingID)
	}
	if l.Status != ListingActive {
		return Listing{}, apperr.StateConflict("listing %s is %s", listingID, l.Status)
	}
	for _, id := range s.offerOrder {
		o := s.offers[id]
		if o.ListingID == listingID && (o.Status == OfferAccepted || o.Status == OfferInPayment) {
			return Listing{}, apperr.StateConflict("listing %s has an offer in %s", listingID, o.Status)
		}
	}

	if err := s.holdings.Update(l.SellerID, func(h *holding.Holding) error {
		return h.ReleaseListed(l.Kind, l.SharesAvailable)
	}); err != nil {
		return Listing{}, err
	}

	l.Status = ListingCancelled
	l.UpdatedAt = now.UTC()
	s.listings[listingID] = l
	return l, nil
}

// CountListingsByStatus implements Store.
func (s *MemoryStore) CountListingsByStatus(_ context.Context) (map[ListingStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ListingStatus]int64)
	for _, l := range s.listings {
		out[l.Status]++
	}
	return out, nil
}

// CreateOffer implements Store.
func (s *MemoryStore) CreateOffer(_ context.Context, o Offer) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[o.ListingID]
	if !ok {
		return Offer{}, apperr.NotFound("listing %s", o.ListingID)
	}
	if l.Status != ListingActive {
		return Offer{}, apperr.StateConflict("listing %s is %s", l.ID, l.Status)
	}
	if o.Shares > l.SharesAvailable {
		return Offer{}, apperr.InsufficientShares(o.Shares, l.SharesAvailable)
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	s.offers[o.ID] = o
	s.offerOrder = append(s.offerOrder, o.ID)
	return o, nil
}

// GetOffer implements Store.
func (s *MemoryStore) GetOffer(_ context.Context, id string) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return Offer{}, apperr.NotFound("offer %s", id)
	}
	return o, nil
}

// OfferByRef implements Store.
func (s *MemoryStore) OfferByRef(_ context.Context, ref string) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRefLocked(ref)
}

func (s *MemoryStore) byRefLocked(ref string) (Offer, error) {
	if ref == "" {
		return Offer{}, apperr.Validation("reference is required")
	}
	for _, id := range s.offerOrder {
		if o := s.offers[id]; o.ExternalRef == ref {
			return o, nil
		}
	}
	return Offer{}, apperr.NotFound("offer reference %s", ref)
}

// OffersByListing implements Store.
func (s *MemoryStore) OffersByListing(_ context.Context, listingID string) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Offer
	for _, id := range s.offerOrder {
		if o := s.offers[id]; o.ListingID == listingID {
			out = append(out, o)
		}
	}
	return out, nil
}

// OffersByBuyer implements Store.
func (s *MemoryStore) OffersByBuyer(_ context.Context, buyerID string) ([]Offer, error) {
	return s.offersBy(func(o Offer) bool { return o.BuyerID == buyerID })
}

// OffersBySeller implements Store.
func (s *MemoryStore) OffersBySeller(_ context.Context, sellerID string) ([]Offer, error) {
	return s.offersBy(func(o Offer) bool { return o.SellerID == sellerID })
}

func (s *MemoryStore) offersBy(match func(Offer) bool) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Offer
	for _, id := range s.offerOrder {
		if o := s.offers[id]; match(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

// Accept implements Store.
func (s *MemoryStore) Accept(_ context.Context, offerID string, now time.Time) (AcceptOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return AcceptOutcome{}, apperr.NotFound("offer %s", offerID)
	}
	if o.Status != OfferPending {
		return AcceptOutcome{}, apperr.StateConflict("offer %s is %s", offerID, o.Status)
	}
	l, ok := s.listings[o.ListingID]
	if !ok {
		return AcceptOutcome{}, apperr.NotFound("listing %s", o.ListingID)
	}
	if l.Status != ListingActive {
		return AcceptOutcome{}, apperr.StateConflict("listing %s is %s", l.ID, l.Status)
	}

	// Shares already earmarked by offers the seller committed to.
	earmarked := int64(0)
	for _, id := range s.offerOrder {
		other := s.offers[id]
		if other.ListingID == l.ID && (other.Status == OfferAccepted || other.Status == OfferInPayment) {
			earmarked += other.Shares
		}
	}
	if o.Shares > l.SharesAvailable-earmarked {
		return AcceptOutcome{}, apperr.InsufficientShares(o.Shares, l.SharesAvailable-earmarked)
	}

	at := now.UTC()
	o.Status = OfferAccepted
	o.UpdatedAt = at
	s.offers[offerID] = o
	earmarked += o.Shares

	// Pending offers that no longer fit the unearmarked remainder go away now
	// rather than failing at their own acceptance.
	var rejected []Offer
	remaining := l.SharesAvailable - earmarked
	for _, id := range s.offerOrder {
		other := s.offers[id]
		if other.ListingID != l.ID || other.ID == o.ID || other.Status != OfferPending {
			continue
		}
		if other.Shares > remaining {
			other.Status = OfferCancelled
			other.Reason = "displaced by accepted offer"
			other.UpdatedAt = at
			s.offers[id] = other
			rejected = append(rejected, other)
		}
	}
	return AcceptOutcome{Offer: o, Rejected: rejected}, nil
}

// StartPayment implements Store.
func (s *MemoryStore) StartPayment(_ context.Context, offerID string, method ledger.PaymentMethod, ref, txHash string, now time.Time) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return Offer{}, apperr.NotFound("offer %s", offerID)
	}
	if o.Status != OfferAccepted {
		return Offer{}, apperr.StateConflict("offer %s is %s, expected accepted", offerID, o.Status)
	}
	if _, err := s.byRefLocked(ref); err == nil {
		return Offer{}, apperr.Duplicate("offer reference %s already exists", ref)
	}
	o.Status = OfferInPayment
	o.Method = method
	o.ExternalRef = ref
	o.TxHash = txHash
	o.UpdatedAt = now.UTC()
	s.offers[offerID] = o
	return o, nil
}

// CompleteByRef implements Store.
func (s *MemoryStore) CompleteByRef(ctx context.Context, ref string, now time.Time) (TransferOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := s.byRefLocked(ref)
	if err != nil {
		return TransferOutcome{}, err
	}
	l := s.listings[o.ListingID]
	if o.Status == OfferCompleted {
		entry, _ := s.ledger.ByReference(ctx, ledger.KindMarketplaceTransfer, ref)
		return TransferOutcome{Offer: o, Listing: l, Entry: entry, Applied: false}, nil
	}
	if o.Status != OfferInPayment {
		return TransferOutcome{}, apperr.StateConflict("offer %s is %s, expected in_payment", o.ID, o.Status)
	}

	at := now.UTC()
	if err := s.holdings.UpdatePair(o.SellerID, o.BuyerID, func(seller, buyer *holding.Holding) error {
		if err := seller.DebitListed(l.Kind, o.Shares); err != nil {
			return err
		}
		buyer.Credit(l.Kind, o.Shares)
		return nil
	}); err != nil {
		return TransferOutcome{}, err
	}

	o.Status = OfferCompleted
	o.UpdatedAt = at
	entry, err := s.ledger.Append(ctx, transferEntry(l, o, now))
	if err != nil {
		return TransferOutcome{}, err
	}
	s.holdings.InsertRecord(holding.Record{
		UserID:        o.BuyerID,
		EntryID:       entry.ID,
		ShareKind:     l.Kind,
		Shares:        o.Shares,
		PricePerShare: l.PricePerShare,
		Currency:      o.Currency,
		Amount:        o.Total,
		Status:        holding.RecordCompleted,
		CreatedAt:     at,
	})

	l.SharesAvailable -= o.Shares
	l.UpdatedAt = at
	if l.SharesAvailable == 0 {
		l.Status = ListingSold
	}
	s.offers[o.ID] = o
	s.listings[l.ID] = l
	return TransferOutcome{Offer: o, Listing: l, Entry: entry, Applied: true}, nil
}

// FailPayment implements Store.
func (s *MemoryStore) FailPayment(_ context.Context, ref string, now time.Time) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.byRefLocked(ref)
	if err != nil {
		return Offer{}, err
	}
	if o.Status != OfferInPayment {
		return Offer{}, apperr.StateConflict("offer %s is %s, expected in_payment", o.ID, o.Status)
	}
	o.Status = OfferAccepted
	o.ExternalRef = ""
	o.Method = ""
	o.TxHash = ""
	o.UpdatedAt = now.UTC()
	s.offers[o.ID] = o
	return o, nil
}

// CancelOffer implements Store.
func (s *MemoryStore) CancelOffer(_ context.Context, offerID, reason string, now time.Time) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return Offer{}, apperr.NotFound("offer %s", offerID)
	}
	if o.Status != OfferPending && o.Status != OfferAccepted {
		return Offer{}, apperr.StateConflict("offer %s is %s", offerID, o.Status)
	}
	o.Status = OfferCancelled
	o.Reason = reason
	o.UpdatedAt = now.UTC()
	s.offers[offerID] = o
	return o, nil
}

// Dispute implements Store.
func (s *MemoryStore) Dispute(_ context.Context, offerID, reason string, now time.Time) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return Offer{}, apperr.NotFound("offer %s", offerID)
	}
	if o.Status != OfferAccepted && o.Status != OfferInPayment {
		return Offer{}, apperr.StateConflict("offer %s is %s", offerID, o.Status)
	}
	o.Status = OfferDisputed
	o.Reason = reason
	o.UpdatedAt = now.UTC()
	s.offers[offerID] = o
	return o, nil
}

// ListStuck implements Store.
func (s *MemoryStore) ListStuck(_ context.Context, now time.Time) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Offer
	for _, id := range s.offerOrder {
		if o := s.offers[id]; o.Stuck(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

// CountOffersByStatus implements Store.
func (s *MemoryStore) CountOffersByStatus(_ context.Context) (map[OfferStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[OfferStatus]int64)
	for _, o := range s.offers {
		out[o.Status]++
	}
	return out, nil
}
