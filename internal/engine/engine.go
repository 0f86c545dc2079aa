// Package engine implements trade execution and settlement: validating a
// buy or sell against an account's cash and holdings, recomputing average
// cost basis, and committing balance, holding, and transaction record as
// one atomic unit through the ledger store.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Quantities are integers; fractional shares are not supported.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/ledger"
	"github.com/buylow/trade-engine/internal/metrics"
	"github.com/buylow/trade-engine/internal/model"
	"github.com/buylow/trade-engine/internal/oracle"
)

var (
	// ErrInvalidQuantity is returned when quantity is zero or negative.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")

	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPlayerNotFound is returned when the player does not exist.
	ErrPlayerNotFound = errors.New("player not found")

	// ErrInsufficientFunds is returned when a buy's total cost exceeds the
	// account's cash balance. Orders are all-or-nothing; there is no
	// overdraft and no partial fill.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares is returned when a sell exceeds the held
	// quantity, including when no holding exists at all.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrPriceUnavailable is returned when the pricing oracle cannot
	// supply a positive price.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrConcurrentModification is returned when optimistic retries are
	// exhausted because concurrent trades on the same account kept
	// committing first.
	ErrConcurrentModification = errors.New("trade conflicted with a concurrent trade, please retry")
)

// DefaultMaxAttempts bounds the optimistic write retries per trade.
const DefaultMaxAttempts = 3

// Engine validates and executes buy/sell intents. It is safe for
// concurrent use: same-account trades serialize through the account's
// version stamp in the store, trades by different accounts never contend.
type Engine struct {
	store       ledger.Store
	oracle      oracle.PriceOracle
	maxAttempts int
	log         *slog.Logger
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAttempts overrides the optimistic retry bound. Useful in
// contention-heavy tests.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithLogger overrides the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the transaction timestamp source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates a trade engine over the given store and pricing oracle.
func New(store ledger.Store, po oracle.PriceOracle, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		oracle:      po,
		maxAttempts: DefaultMaxAttempts,
		log:         slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Buy purchases quantity shares of a player at the oracle's current price.
// Rejects with ErrInsufficientFunds when the total cost exceeds cash; on
// success debits cash, upserts the holding with a volume-weighted average
// purchase price, and appends a BUY transaction — atomically.
func (e *Engine) Buy(ctx context.Context, accountID, playerID string, quantity int64) (*model.SettlementResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		account, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if _, err := e.store.GetPlayer(ctx, playerID); err != nil {
			return nil, mapStoreErr(err)
		}

		price, err := e.oracle.CurrentPrice(ctx, playerID)
		if err != nil {
			if errors.Is(err, oracle.ErrPriceUnavailable) {
				return nil, fmt.Errorf("%w for player %s", ErrPriceUnavailable, playerID)
			}
			return nil, err
		}

		qty := decimal.NewFromInt(quantity)
		totalCost := price.Mul(qty)
		if totalCost.GreaterThan(account.CashBalance) {
			return nil, fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientFunds, totalCost.StringFixed(model.MoneyScale),
				account.CashBalance.StringFixed(model.MoneyScale))
		}

		holding := &model.Holding{
			AccountID:        accountID,
			PlayerID:         playerID,
			Quantity:         quantity,
			AvgPurchasePrice: price.Round(model.MoneyScale),
		}
		if existing, err := e.store.GetHolding(ctx, accountID, playerID); err == nil {
			holding.Quantity = existing.Quantity + quantity
			holding.AvgPurchasePrice = weightedAvg(existing, quantity, price)
		} else if !errors.Is(err, ledger.ErrHoldingNotFound) {
			return nil, err
		}

		newCash := account.CashBalance.Sub(totalCost)
		txn := e.newTransaction(accountID, playerID, model.SideBuy, quantity, price, totalCost)

		err = e.store.ApplyTrade(ctx, ledger.TradeMutation{
			AccountID:      accountID,
			AccountVersion: account.Version,
			NewCashBalance: newCash,
			Holding:        holding,
			Transaction:    txn,
		})
		if errors.Is(err, ledger.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
			continue // fresh read, fresh validation
		}
		if err != nil {
			return nil, mapStoreErr(err)
		}

		e.log.Info("trade settled",
			"txn_id", txn.ID,
			"account", accountID,
			"player", playerID,
			"side", model.SideBuy,
			"qty", quantity,
			"price", price.String(),
			"total", totalCost.String(),
			"cash_remaining", newCash.String(),
		)

		return &model.SettlementResult{
			PricePerShare: price,
			Quantity:      quantity,
			Total:         totalCost,
			CashRemaining: newCash,
		}, nil
	}

	return nil, ErrConcurrentModification
}

// Sell disposes quantity shares of a held player at the oracle's current
// price. Rejects with ErrInsufficientShares when the position is smaller
// than the requested quantity (or absent); on success credits the
// proceeds, decrements the holding — deleting the row when it reaches
// zero — and appends a SELL transaction. The average purchase price of
// any remaining shares is unchanged.
func (e *Engine) Sell(ctx context.Context, accountID, playerID string, quantity int64) (*model.SettlementResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		account, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if _, err := e.store.GetPlayer(ctx, playerID); err != nil {
			return nil, mapStoreErr(err)
		}

		holding, err := e.store.GetHolding(ctx, accountID, playerID)
		if errors.Is(err, ledger.ErrHoldingNotFound) {
			return nil, fmt.Errorf("%w: no position in player %s", ErrInsufficientShares, playerID)
		}
		if err != nil {
			return nil, err
		}
		if quantity > holding.Quantity {
			return nil, fmt.Errorf("%w: have %d, tried to sell %d",
				ErrInsufficientShares, holding.Quantity, quantity)
		}

		price, err := e.oracle.CurrentPrice(ctx, playerID)
		if err != nil {
			if errors.Is(err, oracle.ErrPriceUnavailable) {
				return nil, fmt.Errorf("%w for player %s", ErrPriceUnavailable, playerID)
			}
			return nil, err
		}

		qty := decimal.NewFromInt(quantity)
		proceeds := price.Mul(qty)
		newCash := account.CashBalance.Add(proceeds)

		mut := ledger.TradeMutation{
			AccountID:      accountID,
			AccountVersion: account.Version,
			NewCashBalance: newCash,
			Transaction:    e.newTransaction(accountID, playerID, model.SideSell, quantity, price, proceeds),
		}
		if remaining := holding.Quantity - quantity; remaining == 0 {
			mut.RemoveHolding = true
		} else {
			mut.Holding = &model.Holding{
				AccountID:        accountID,
				PlayerID:         playerID,
				Quantity:         remaining,
				AvgPurchasePrice: holding.AvgPurchasePrice,
			}
		}

		err = e.store.ApplyTrade(ctx, mut)
		if errors.Is(err, ledger.ErrVersionConflict) {
			metrics.VersionConflicts.Inc()
			continue
		}
		if err != nil {
			return nil, mapStoreErr(err)
		}

		e.log.Info("trade settled",
			"txn_id", mut.Transaction.ID,
			"account", accountID,
			"player", playerID,
			"side", model.SideSell,
			"qty", quantity,
			"price", price.String(),
			"total", proceeds.String(),
			"cash_remaining", newCash.String(),
		)

		return &model.SettlementResult{
			PricePerShare: price,
			Quantity:      quantity,
			Total:         proceeds,
			CashRemaining: newCash,
		}, nil
	}

	return nil, ErrConcurrentModification
}

func (e *Engine) newTransaction(accountID, playerID, side string, quantity int64, price, total decimal.Decimal) model.Transaction {
	return model.Transaction{
		ID:            uuid.New().String(),
		AccountID:     accountID,
		PlayerID:      playerID,
		Side:          side,
		Quantity:      quantity,
		PricePerShare: price,
		TotalPrice:    total,
		CreatedAt:     e.now(),
	}
}

// weightedAvg folds a new lot into an existing position's cost basis:
// (oldQty*oldAvg + qty*price) / (oldQty+qty), computed at full decimal
// precision and rounded to the stored money scale.
func weightedAvg(existing *model.Holding, quantity int64, price decimal.Decimal) decimal.Decimal {
	oldQty := decimal.NewFromInt(existing.Quantity)
	newQty := decimal.NewFromInt(quantity)

	oldValue := oldQty.Mul(existing.AvgPurchasePrice)
	newValue := newQty.Mul(price)
	return oldValue.Add(newValue).Div(oldQty.Add(newQty)).Round(model.MoneyScale)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fmt.Errorf("%w: %v", ErrAccountNotFound, err)
	case errors.Is(err, ledger.ErrPlayerNotFound):
		return fmt.Errorf("%w: %v", ErrPlayerNotFound, err)
	default:
		return err
	}
}
