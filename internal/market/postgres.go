package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/ledger"
)

// PostgresStore runs listing and offer transitions inside pgx transactions.
// The listing row lock serializes acceptance and settlement against the same
// shares.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed market store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, seller, share_kind, shares_offered, shares_available, price_per_share,
    currency, expires_at, status, created_at, updated_at`

const offerColumns = `id, listing_id, buyer, seller, shares, total, currency, status,
    external_ref, method, tx_hash, reason, created_at, updated_at`

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateListing implements Store.
func (s *PostgresStore) CreateListing(ctx context.Context, l Listing) (Listing, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		h, err := holding.GetForUpdateTx(ctx, tx, l.SellerID)
		if err != nil {
			return err
		}
		if err := h.ReserveListed(l.Kind, l.SharesOffered); err != nil {
			return err
		}
		if err := holding.SaveTx(ctx, tx, h); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO listings (`+listingColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			mustUUID(l.ID), mustUUID(l.SellerID), l.Kind, l.SharesOffered, l.SharesAvailable,
			l.PricePerShare, l.Currency, l.ExpiresAt, l.Status, l.CreatedAt.UTC(), l.UpdatedAt.UTC())
		return err
	})
	return l, err
}

// GetListing implements Store.
func (s *PostgresStore) GetListing(ctx context.Context, id string) (Listing, error) {
	l, err := scanListing(s.db.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, mustUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, apperr.NotFound("listing %s", id)
	}
	return l, err
}

// ActiveListings implements Store, newest first.
func (s *PostgresStore) ActiveListings(ctx context.Context, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `SELECT `+listingColumns+` FROM listings
        WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, ListingActive, limit)
	if err != nil {
		return nil, err
	}
	return scanListings(rows)
}

// ListingsBySeller implements Store.
func (s *PostgresStore) ListingsBySeller(ctx context.Context, sellerID string) ([]Listing, error) {
	rows, err := s.db.Query(ctx, `SELECT `+listingColumns+` FROM listings
        WHERE seller = $1 ORDER BY created_at DESC`, mustUUID(sellerID))
	if err != nil {
		return nil, err
	}
	return scanListings(rows)
}

// CancelListing implements Store.
func (s *PostgresStore) CancelListing(ctx context.Context, listingID string, now time.Time) (Listing, error) {
	var out Listing
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		l, err := lockListing(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if l.Status != ListingActive {
			return apperr.StateConflict("listing %s is %s", listingID, l.Status)
		}
		var open int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM offers
            WHERE listing_id = $1 AND status IN ($2, $3)`,
			mustUUID(listingID), OfferAccepted, OfferInPayment).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return apperr.StateConflict("listing %s has offers awaiting settlement", listingID)
		}

		h, err := holding.GetForUpdateTx(ctx, tx, l.SellerID)
		if err != nil {
			return err
		}
		if err := h.ReleaseListed(l.Kind, l.SharesAvailable); err != nil {
			return err
		}
		if err := holding.SaveTx(ctx, tx, h); err != nil {
			return err
		}

		l.Status = ListingCancelled
		l.UpdatedAt = now.UTC()
		if err := saveListingTx(ctx, tx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

// CountListingsByStatus implements Store.
func (s *PostgresStore) CountListingsByStatus(ctx context.Context) (map[ListingStatus]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM listings GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[ListingStatus]int64)
	for rows.Next() {
		var (
			status ListingStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CreateOffer implements Store.
func (s *PostgresStore) CreateOffer(ctx context.Context, o Offer) (Offer, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		l, err := lockListing(ctx, tx, o.ListingID)
		if err != nil {
			return err
		}
		if l.Status != ListingActive {
			return apperr.StateConflict("listing %s is %s", l.ID, l.Status)
		}
		if o.Shares > l.SharesAvailable {
			return apperr.InsufficientShares(o.Shares, l.SharesAvailable)
		}
		_, err = tx.Exec(ctx, `INSERT INTO offers
            (id, listing_id, buyer, seller, shares, total, currency, status, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			mustUUID(o.ID), mustUUID(o.ListingID), mustUUID(o.BuyerID), mustUUID(o.SellerID),
			o.Shares, o.Total, o.Currency, o.Status, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
		return err
	})
	return o, err
}

// GetOffer implements Store.
func (s *PostgresStore) GetOffer(ctx context.Context, id string) (Offer, error) {
	o, err := scanOffer(s.db.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1`, mustUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, apperr.NotFound("offer %s", id)
	}
	return o, err
}

// OfferByRef implements Store.
func (s *PostgresStore) OfferByRef(ctx context.Context, ref string) (Offer, error) {
	if ref == "" {
		return Offer{}, apperr.Validation("reference is required")
	}
	o, err := scanOffer(s.db.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE external_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, apperr.NotFound("offer reference %s", ref)
	}
	return o, err
}

// OffersByListing implements Store.
func (s *PostgresStore) OffersByListing(ctx context.Context, listingID string) ([]Offer, error) {
	rows, err := s.db.Query(ctx, `SELECT `+offerColumns+` FROM offers
        WHERE listing_id = $1 ORDER BY created_at`, mustUUID(listingID))
	if err != nil {
		return nil, err
	}
	return scanOffers(rows)
}

// OffersByBuyer implements Store.
func (s *PostgresStore) OffersByBuyer(ctx context.Context, buyerID string) ([]Offer, error) {
	rows, err := s.db.Query(ctx, `SELECT `+offerColumns+` FROM offers
        WHERE buyer = $1 ORDER BY created_at DESC`, mustUUID(buyerID))
	if err != nil {
		return nil, err
	}
	return scanOffers(rows)
}

// OffersBySeller implements Store.
func (s *PostgresStore) OffersBySeller(ctx context.Context, sellerID string) ([]Offer, error) {
	rows, err := s.db.Query(ctx, `SELECT `+offerColumns+` FROM offers
        WHERE seller = $1 ORDER BY created_at DESC`, mustUUID(sellerID))
	if err != nil {
		return nil, err
	}
	return scanOffers(rows)
}

// Accept implements Store.
func (s *PostgresStore) Accept(ctx context.Context, offerID string, now time.Time) (AcceptOutcome, error) {
	var out AcceptOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOffer(tx.QueryRow(ctx,
			`SELECT `+offerColumns+` FROM offers WHERE id = $1`, mustUUID(offerID)))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("offer %s", offerID)
		}
		if err != nil {
			return err
		}
		l, err := lockListing(ctx, tx, o.ListingID)
		if err != nil {
			return err
		}
		// Re-read under the listing lock.
		o, err = scanOffer(tx.QueryRow(ctx,
			`SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, mustUUID(offerID)))
		if err != nil {
			return err
		}
		if o.Status != OfferPending {
			return apperr.StateConflict("offer %s is %s", offerID, o.Status)
		}
		if l.Status != ListingActive {
			return apperr.StateConflict("listing %s is %s", l.ID, l.Status)
		}

		var earmarked int64
		if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(shares), 0) FROM offers
            WHERE listing_id = $1 AND status IN ($2, $3)`,
			mustUUID(l.ID), OfferAccepted, OfferInPayment).Scan(&earmarked); err != nil {
			return err
		}
		if o.Shares > l.SharesAvailable-earmarked {
			return apperr.InsufficientShares(o.Shares, l.SharesAvailable-earmarked)
		}

		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE offers SET status = $1, updated_at = $2 WHERE id = $3`,
			OfferAccepted, at, mustUUID(o.ID)); err != nil {
			return err
		}
		o.Status = OfferAccepted
		o.UpdatedAt = at
		earmarked += o.Shares

		rows, err := tx.Query(ctx, `UPDATE offers SET status = $1, reason = $2, updated_at = $3
            WHERE listing_id = $4 AND status = $5 AND id <> $6 AND shares > $7
            RETURNING `+offerColumns,
			OfferCancelled, "displaced by accepted offer", at,
			mustUUID(l.ID), OfferPending, mustUUID(o.ID), l.SharesAvailable-earmarked)
		if err != nil {
			return err
		}
		rejected, err := scanOffers(rows)
		if err != nil {
			return err
		}
		out = AcceptOutcome{Offer: o, Rejected: rejected}
		return nil
	})
	return out, err
}

// StartPayment implements Store.
func (s *PostgresStore) StartPayment(ctx context.Context, offerID string, method ledger.PaymentMethod, ref, txHash string, now time.Time) (Offer, error) {
	var out Offer
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOffer(tx.QueryRow(ctx,
			`SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, mustUUID(offerID)))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("offer %s", offerID)
		}
		if err != nil {
			return err
		}
		if o.Status != OfferAccepted {
			return apperr.StateConflict("offer %s is %s, expected accepted", offerID, o.Status)
		}
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM offers WHERE external_ref = $1)`, ref).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return apperr.Duplicate("offer reference %s already exists", ref)
		}
		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE offers SET status = $1, external_ref = $2, method = $3,
            tx_hash = $4, updated_at = $5 WHERE id = $6`,
			OfferInPayment, ref, string(method), nullable(txHash), at, mustUUID(offerID)); err != nil {
			return err
		}
		o.Status = OfferInPayment
		o.ExternalRef = ref
		o.Method = method
		o.TxHash = txHash
		o.UpdatedAt = at
		out = o
		return nil
	})
	return out, err
}

// CompleteByRef implements Store.
func (s *PostgresStore) CompleteByRef(ctx context.Context, ref string, now time.Time) (TransferOutcome, error) {
	if ref == "" {
		return TransferOutcome{}, apperr.Validation("reference is required")
	}
	var out TransferOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOffer(tx.QueryRow(ctx,
			`SELECT `+offerColumns+` FROM offers WHERE external_ref = $1`, ref))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("offer reference %s", ref)
		}
		if err != nil {
			return err
		}
		l, err := lockListing(ctx, tx, o.ListingID)
		if err != nil {
			return err
		}
		o, err = scanOffer(tx.QueryRow(ctx,
			`SELECT `+offerColumns+` FROM offers WHERE external_ref = $1 FOR UPDATE`, ref))
		if err != nil {
			return err
		}
		if o.Status == OfferCompleted {
			entry, _ := ledger.ByReferenceTx(ctx, tx, ledger.KindMarketplaceTransfer, ref)
			out = TransferOutcome{Offer: o, Listing: l, Entry: entry, Applied: false}
			return nil
		}
		if o.Status != OfferInPayment {
			return apperr.StateConflict("offer %s is %s, expected in_payment", o.ID, o.Status)
		}

		at := now.UTC()

		// Holdings locked in sorted id order; concurrent transfers between the
		// same two users cannot deadlock.
		first, second := o.SellerID, o.BuyerID
		if second < first {
			first, second = second, first
		}
		holdings := make(map[string]holding.Holding, 2)
		for _, id := range []string{first, second} {
			h, err := holding.GetForUpdateTx(ctx, tx, id)
			if err != nil {
				return err
			}
			holdings[id] = h
		}
		seller, buyer := holdings[o.SellerID], holdings[o.BuyerID]
		if err := seller.DebitListed(l.Kind, o.Shares); err != nil {
			return err
		}
		buyer.Credit(l.Kind, o.Shares)
		if err := holding.SaveTx(ctx, tx, seller); err != nil {
			return err
		}
		if err := holding.SaveTx(ctx, tx, buyer); err != nil {
			return err
		}

		o.Status = OfferCompleted
		o.UpdatedAt = at
		entry, err := ledger.InsertTx(ctx, tx, transferEntry(l, o, now))
		if err != nil {
			return err
		}
		if _, err := holding.InsertRecordTx(ctx, tx, holding.Record{
			UserID:        o.BuyerID,
			EntryID:       entry.ID,
			ShareKind:     l.Kind,
			Shares:        o.Shares,
			PricePerShare: l.PricePerShare,
			Currency:      o.Currency,
			Amount:        o.Total,
			Status:        holding.RecordCompleted,
			CreatedAt:     at,
		}); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE offers SET status = $1, updated_at = $2 WHERE id = $3`,
			OfferCompleted, at, mustUUID(o.ID)); err != nil {
			return err
		}
		l.SharesAvailable -= o.Shares
		l.UpdatedAt = at
		if l.SharesAvailable == 0 {
			l.Status = ListingSold
		}
		if err := saveListingTx(ctx, tx, l); err != nil {
			return err
		}
		out = TransferOutcome{Offer: o, Listing: l, Entry: entry, Applied: true}
		return nil
	})
	return out, err
}

// FailPayment implements Store.
func (s *PostgresStore) FailPayment(ctx context.Context, ref string, now time.Time) (Offer, error) {
	var out Offer
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOffer(tx.QueryRow(ctx,
			`SELECT `+offerColumns+` FROM offers WHERE external_ref = $1 FOR UPDATE`, ref))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("offer reference %s", ref)
		}
		if err != nil {
			return err
		}
		if o.Status != OfferInPayment {
			return apperr.StateConflict("offer %s is %s, expected in_payment", o.ID, o.Status)
		}
		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE offers SET status = $1, external_ref = NULL, method = NULL,
            tx_hash = NULL, updated_at = $2 WHERE id = $3`,
			OfferAccepted, at, mustUUID(o.ID)); err != nil {
			return err
		}
		o.Status = OfferAccepted
		o.ExternalRef = ""
		o.Method = ""
		o.TxHash = ""
		o.UpdatedAt = at
		out = o
		return nil
	})
	return out, err
}

// CancelOffer implements Store.
func (s *PostgresStore) CancelOffer(ctx context.Context, offerID, reason string, now time.Time) (Offer, error) {
	return s.transition(ctx, offerID, reason, now, OfferCancelled, OfferPending, OfferAccepted)
}

// Dispute implements Store.
func (s *PostgresStore) Dispute(ctx context.Context, offerID, reason string, now time.Time) (Offer, error) {
	return s.transition(ctx, offerID, reason, now, OfferDisputed, OfferAccepted, OfferInPayment)
}

func (s *PostgresStore) transition(ctx context.Context, offerID, reason string, now time.Time, to OfferStatus, from ...OfferStatus) (Offer, error) {
	var out Offer
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOffer(tx.QueryRow(ctx,
			`SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, mustUUID(offerID)))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("offer %s", offerID)
		}
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if o.Status == st {
				allowed = true
			}
		}
		if !allowed {
			return apperr.StateConflict("offer %s is %s", offerID, o.Status)
		}
		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE offers SET status = $1, reason = $2, updated_at = $3 WHERE id = $4`,
			to, nullable(reason), at, mustUUID(offerID)); err != nil {
			return err
		}
		o.Status = to
		o.Reason = reason
		o.UpdatedAt = at
		out = o
		return nil
	})
	return out, err
}

// ListStuck implements Store.
func (s *PostgresStore) ListStuck(ctx context.Context, now time.Time) ([]Offer, error) {
	rows, err := s.db.Query(ctx, `SELECT `+offerColumns+` FROM offers
        WHERE status IN ($1, $2) AND updated_at < $3 ORDER BY updated_at`,
		OfferAccepted, OfferInPayment, now.UTC().Add(-StuckWindow))
	if err != nil {
		return nil, err
	}
	return scanOffers(rows)
}

// CountOffersByStatus implements Store.
func (s *PostgresStore) CountOffersByStatus(ctx context.Context) (map[OfferStatus]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM offers GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[OfferStatus]int64)
	for rows.Next() {
		var (
			status OfferStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func lockListing(ctx context.Context, tx pgx.Tx, listingID string) (Listing, error) {
	l, err := scanListing(tx.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, mustUUID(listingID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, apperr.NotFound("listing %s", listingID)
	}
	return l, err
}

func saveListingTx(ctx context.Context, tx pgx.Tx, l Listing) error {
	_, err := tx.Exec(ctx, `UPDATE listings SET shares_available = $1, status = $2, updated_at = $3
        WHERE id = $4`, l.SharesAvailable, l.Status, l.UpdatedAt.UTC(), mustUUID(l.ID))
	return err
}

func scanListing(row pgx.Row) (Listing, error) {
	var (
		l          Listing
		id, seller uuid.UUID
		expiresAt  *time.Time
	)
	err := row.Scan(&id, &seller, &l.Kind, &l.SharesOffered, &l.SharesAvailable, &l.PricePerShare,
		&l.Currency, &expiresAt, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Listing{}, err
	}
	l.ID = id.String()
	l.SellerID = seller.String()
	if expiresAt != nil {
		at := expiresAt.UTC()
		l.ExpiresAt = &at
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

func scanListings(rows pgx.Rows) ([]Listing, error) {
	defer rows.Close()
	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanOffer(row pgx.Row) (Offer, error) {
	var (
		o                          Offer
		id, listingID, buyer, sell uuid.UUID
		ref, method, txHash, why   *string
	)
	err := row.Scan(&id, &listingID, &buyer, &sell, &o.Shares, &o.Total, &o.Currency, &o.Status,
		&ref, &method, &txHash, &why, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Offer{}, err
	}
	o.ID = id.String()
	o.ListingID = listingID.String()
	o.BuyerID = buyer.String()
	o.SellerID = sell.String()
	if ref != nil {
		o.ExternalRef = *ref
	}
	if method != nil {
		o.Method = ledger.PaymentMethod(*method)
	}
	if txHash != nil {
		o.TxHash = *txHash
	}
	if why != nil {
		o.Reason = *why
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanOffers(rows pgx.Rows) ([]Offer, error) {
	defer rows.Close()
	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mustUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
