// Package oracle defines the pricing boundary of the trade engine. The
// engine reads exactly one authoritative price per trade attempt; it never
// computes or writes prices. Price movement belongs to the external
// advance-day process.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/ledger"
)

// ErrPriceUnavailable is returned when no positive price can be supplied
// for a player.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// PriceOracle supplies the current tradable price for a player.
type PriceOracle interface {
	// CurrentPrice returns the player's current price. The returned price
	// is always positive; a missing or non-positive price is
	// ErrPriceUnavailable.
	CurrentPrice(ctx context.Context, playerID string) (decimal.Decimal, error)
}

// LedgerOracle reads prices from the player rows in the ledger store, which
// the advance-day process keeps current.
type LedgerOracle struct {
	store ledger.Store
}

// NewLedgerOracle creates an oracle backed by the given store.
func NewLedgerOracle(store ledger.Store) *LedgerOracle {
	return &LedgerOracle{store: store}
}

func (o *LedgerOracle) CurrentPrice(ctx context.Context, playerID string) (decimal.Decimal, error) {
	p, err := o.store.GetPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, ledger.ErrPlayerNotFound) {
			return decimal.Zero, fmt.Errorf("player %s: %w", playerID, ErrPriceUnavailable)
		}
		return decimal.Zero, err
	}
	if p.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("player %s has no positive price: %w", playerID, ErrPriceUnavailable)
	}
	return p.CurrentPrice, nil
}

// StaticOracle serves prices from an in-memory map. Used in tests to move
// prices between trades without touching the store.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticOracle creates an empty static oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]decimal.Decimal)}
}

// SetPrice sets the price returned for a player.
func (o *StaticOracle) SetPrice(playerID string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[playerID] = price
}

func (o *StaticOracle) CurrentPrice(_ context.Context, playerID string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.prices[playerID]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("player %s: %w", playerID, ErrPriceUnavailable)
	}
	return price, nil
}

var _ PriceOracle = (*LedgerOracle)(nil)
var _ PriceOracle = (*StaticOracle)(nil)
