// Package ledger defines durable storage for the trade engine's three
// entities: accounts, holdings, and the append-only transaction log.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The store owns no business logic. Its one non-trivial duty is ApplyTrade:
// applying a trade's full effect — balance write, holding upsert or delete,
// transaction append — as a single all-or-nothing unit, so a concurrent
// reader never observes a cash debit without its holding credit.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/model"
)

var (
	// ErrAccountNotFound is returned when no account exists for the id.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrPlayerNotFound is returned when no player exists for the id.
	ErrPlayerNotFound = errors.New("ledger: player not found")

	// ErrHoldingNotFound is returned when no holding exists for the
	// (account, player) pair.
	ErrHoldingNotFound = errors.New("ledger: holding not found")

	// ErrVersionConflict is returned by ApplyTrade when the account row
	// changed since the caller read it. The caller should re-read and retry.
	ErrVersionConflict = errors.New("ledger: account version conflict")
)

// TradeMutation bundles the full effect of one validated trade. ApplyTrade
// commits all of it or none of it.
type TradeMutation struct {
	AccountID string

	// AccountVersion is the version the caller read. The write is rejected
	// with ErrVersionConflict if the stored version differs.
	AccountVersion int64

	// NewCashBalance is the account's balance after the trade.
	NewCashBalance decimal.Decimal

	// Holding is the desired post-trade state of the (account, player)
	// holding. Ignored when RemoveHolding is set.
	Holding *model.Holding

	// RemoveHolding deletes the holding row (position fully liquidated).
	RemoveHolding bool

	// Transaction is the immutable record appended for this trade.
	Transaction model.Transaction
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account with its starting balance.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// --- Players ---

	// CreatePlayer persists a new player.
	CreatePlayer(ctx context.Context, p *model.Player) error

	// GetPlayer retrieves a player by id.
	GetPlayer(ctx context.Context, id string) (*model.Player, error)

	// ListPlayers returns all players.
	ListPlayers(ctx context.Context) ([]model.Player, error)

	// UpdatePlayerPrice sets a player's current price. Called by the
	// advance-day price process, never by the trade engine.
	UpdatePlayerPrice(ctx context.Context, id string, price decimal.Decimal) error

	// --- Holdings ---

	// GetHolding retrieves the holding for one (account, player) pair.
	GetHolding(ctx context.Context, accountID, playerID string) (*model.Holding, error)

	// ListHoldings returns all holdings for an account.
	ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error)

	// ListAllHoldings returns every holding. Used by the leaderboard
	// aggregation and the consistency audit.
	ListAllHoldings(ctx context.Context) ([]model.Holding, error)

	// --- Trades ---

	// ApplyTrade atomically applies a trade's mutations. Returns
	// ErrVersionConflict if the account version is stale.
	ApplyTrade(ctx context.Context, mut TradeMutation) error

	// GetTransactionsByAccount returns an account's full trade history,
	// oldest first.
	GetTransactionsByAccount(ctx context.Context, accountID string) ([]model.Transaction, error)

	// ListTransactions returns the full transaction log, oldest first.
	ListTransactions(ctx context.Context) ([]model.Transaction, error)
}
