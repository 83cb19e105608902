// Package billing gates paid matching filters behind the coin economy. It
// looks up per-filter prices from app settings (cached in Redis), checks
// affordability before a search, and debits the coin ledger once a match
// commits.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DishantPal/meetmingle-api/internal/coins"
	"github.com/DishantPal/meetmingle-api/internal/metrics"
	"github.com/DishantPal/meetmingle-api/internal/queue"
)

// ErrInsufficientBalance is returned when the user cannot afford a filter
// they requested.
var ErrInsufficientBalance = errors.New("billing: insufficient coin balance for filter")

// Filter dimensions that may carry a price. Interests never cost coins.
const (
	DimGender   = "gender"
	DimLanguage = "language"
	DimCountry  = "country"
	DimState    = "state"
	DimAge      = "age"
)

const actionMatchFilter = "match_filter"

// Gate checks affordability and charges coins for exercised filters.
type Gate struct {
	ledger *coins.Store
	prices *Prices
}

// NewGate creates a billing gate over the coin ledger and price book.
func NewGate(ledger *coins.Store, prices *Prices) *Gate {
	return &Gate{ledger: ledger, prices: prices}
}

// usedDims lists the priced dimensions a filter set actually exercises.
func usedDims(f queue.Filters) []string {
	var dims []string
	if f.Gender != "" {
		dims = append(dims, DimGender)
	}
	if f.Language != "" {
		dims = append(dims, DimLanguage)
	}
	if f.Country != "" {
		dims = append(dims, DimCountry)
	}
	if f.State != "" {
		dims = append(dims, DimState)
	}
	if f.HasAge() {
		dims = append(dims, DimAge)
	}
	return dims
}

// CanAfford reports whether the user's current balance covers every filter
// they set. Each filter's price is checked independently against the live
// balance rather than summing all requested filters first; this mirrors the
// long-standing product behavior and is deliberately not "fixed" here.
func (g *Gate) CanAfford(ctx context.Context, userID int64, f queue.Filters) (bool, error) {
	dims := usedDims(f)
	if len(dims) == 0 {
		return true, nil
	}

	balance, err := g.ledger.Balance(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("billing: balance check for user %d: %w", userID, err)
	}

	for _, dim := range dims {
		price, err := g.prices.Price(ctx, dim)
		if err != nil {
			return false, err
		}
		if price > balance {
			return false, nil
		}
	}
	return true, nil
}

// Charge debits the user for each priced filter they exercised, one ledger
// entry per filter, inside the caller's transaction. Zero-priced filters are
// free and produce no entry. Each participant is charged for their own
// filters only.
func (g *Gate) Charge(ctx context.Context, tx *sql.Tx, userID int64, f queue.Filters) error {
	for _, dim := range usedDims(f) {
		price, err := g.prices.Price(ctx, dim)
		if err != nil {
			return err
		}
		if price <= 0 {
			continue
		}
		err = g.ledger.Debit(ctx, tx, userID, price, actionMatchFilter,
			fmt.Sprintf("Used %s filter", dim), dim+"_filter")
		if err != nil {
			return fmt.Errorf("billing: charge %s filter for user %d: %w", dim, userID, err)
		}
		metrics.CoinChargesTotal.Inc()
	}
	return nil
}
