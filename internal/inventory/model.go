// Package inventory owns the share counters: per-tier direct sales and the
// cofounder pool. Allocation fills tier 1 first; cofounder-equivalent regular
// shares occupy remaining capacity ahead of regular availability.
package inventory

import (
	"context"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/pricing"
)

// Counters is the persisted sold state. Everything else is derived from it
// and the pricing snapshot.
type Counters struct {
	Tiers     [3]int64
	Cofounder int64
}

// Availability is the purchasable remainder under one pricing snapshot.
type Availability struct {
	Tiers     [3]int64
	Total     int64
	Cofounder int64
}

// Reservation is a priced allocation against one snapshot. It is computed at
// intent time and re-validated under the inventory row lock at commit.
type Reservation struct {
	Kind          ledger.ShareKind
	Quantity      int64
	Tiers         [3]int64
	UnitPrices    [3]int64
	Currency      money.Currency
	Total         int64
	ConfigVersion int64
}

// Store reads the counters outside engine transactions.
type Store interface {
	Counters(ctx context.Context) (Counters, error)
}

// CofounderAllocation derives the per-tier occupation of cofounder-equivalent
// regular shares: sold_cofounder × ratio filled greedily from tier 1 against
// capacity remaining after direct sales.
func CofounderAllocation(c Counters, snap pricing.Snapshot) [3]int64 {
	var alloc [3]int64
	equivalent := c.Cofounder * snap.CofounderRatio
	for i := range alloc {
		room := snap.Tiers[i].Capacity - c.Tiers[i]
		if room <= 0 {
			continue
		}
		take := money.Min(room, equivalent)
		alloc[i] = take
		equivalent -= take
		if equivalent == 0 {
			break
		}
	}
	return alloc
}

// Available computes per-tier and cofounder availability.
func Available(c Counters, snap pricing.Snapshot) Availability {
	alloc := CofounderAllocation(c, snap)
	var out Availability
	for i := range out.Tiers {
		remaining := snap.Tiers[i].Capacity - c.Tiers[i] - alloc[i]
		if remaining < 0 {
			remaining = 0
		}
		out.Tiers[i] = remaining
		out.Total += remaining
	}
	out.Cofounder = snap.CofounderTotal - c.Cofounder
	if out.Cofounder < 0 {
		out.Cofounder = 0
	}
	return out
}

// PlanRegular prices a regular-share reservation, filling tier 1 first. It
// fails with INSUFFICIENT_SHARES carrying the observed availability.
func PlanRegular(c Counters, snap pricing.Snapshot, quantity int64, currency money.Currency) (Reservation, error) {
	if quantity < 1 {
		return Reservation{}, apperr.Validation("quantity must be at least 1")
	}
	if !currency.Valid() {
		return Reservation{}, apperr.Validation("unknown currency %q", currency)
	}
	avail := Available(c, snap)
	if quantity > avail.Total {
		return Reservation{}, apperr.InsufficientShares(quantity, avail.Total)
	}

	res := Reservation{
		Kind:          ledger.ShareRegular,
		Quantity:      quantity,
		Currency:      currency,
		ConfigVersion: snap.Version,
	}
	remaining := quantity
	for i := range res.Tiers {
		res.UnitPrices[i] = snap.TierPrice(i+1, currency)
		take := money.Min(remaining, avail.Tiers[i])
		res.Tiers[i] = take
		res.Total += take * res.UnitPrices[i]
		remaining -= take
		if remaining == 0 {
			break
		}
	}
	return res, nil
}

// PlanCofounder prices a cofounder-share reservation against the pool.
func PlanCofounder(c Counters, snap pricing.Snapshot, quantity int64, currency money.Currency) (Reservation, error) {
	if quantity < 1 {
		return Reservation{}, apperr.Validation("quantity must be at least 1")
	}
	if !currency.Valid() {
		return Reservation{}, apperr.Validation("unknown currency %q", currency)
	}
	available := snap.CofounderTotal - c.Cofounder
	if quantity > available {
		return Reservation{}, apperr.InsufficientShares(quantity, available)
	}
	// cofounder equivalents must also fit the regular capacity they occupy
	avail := Available(c, snap)
	if quantity*snap.CofounderRatio > avail.Total {
		return Reservation{}, apperr.InsufficientShares(quantity, avail.Total/snap.CofounderRatio)
	}
	price := snap.CofounderPrice(currency)
	return Reservation{
		Kind:          ledger.ShareCofounder,
		Quantity:      quantity,
		Currency:      currency,
		Total:         quantity * price,
		ConfigVersion: snap.Version,
	}, nil
}

// Commit applies a reservation to the counters after re-validating capacity
// under the caller's lock. The first committer wins; a loser observes
// INSUFFICIENT_SHARES with current availability.
func (c *Counters) Commit(res Reservation, snap pricing.Snapshot) error {
	switch res.Kind {
	case ledger.ShareCofounder:
		avail := Available(*c, snap)
		if c.Cofounder+res.Quantity > snap.CofounderTotal {
			return apperr.InsufficientShares(res.Quantity, snap.CofounderTotal-c.Cofounder)
		}
		if res.Quantity*snap.CofounderRatio > avail.Total {
			return apperr.InsufficientShares(res.Quantity, avail.Total/snap.CofounderRatio)
		}
		c.Cofounder += res.Quantity
		return nil
	case ledger.ShareRegular:
		avail := Available(*c, snap)
		for i, take := range res.Tiers {
			if take > avail.Tiers[i] {
				return apperr.InsufficientShares(res.Quantity, avail.Total)
			}
		}
		for i, take := range res.Tiers {
			c.Tiers[i] += take
		}
		return nil
	default:
		return apperr.Internal("unknown reservation kind %q", res.Kind)
	}
}

// Release reverses a committed reservation. Counters never go negative; a
// negative result means the ledger and counters diverged.
func (c *Counters) Release(res Reservation) error {
	switch res.Kind {
	case ledger.ShareCofounder:
		if c.Cofounder < res.Quantity {
			return apperr.Internal("cofounder counter underflow releasing %d", res.Quantity)
		}
		c.Cofounder -= res.Quantity
		return nil
	case ledger.ShareRegular:
		for i, take := range res.Tiers {
			if c.Tiers[i] < take {
				return apperr.Internal("tier %d counter underflow releasing %d", i+1, take)
			}
		}
		for i, take := range res.Tiers {
			c.Tiers[i] -= take
		}
		return nil
	default:
		return apperr.Internal("unknown reservation kind %q", res.Kind)
	}
}
