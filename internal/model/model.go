// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fraction digits for stored monetary values.
const MoneyScale int32 = 2

// StartingBalance is the cash every account is created with.
var StartingBalance = decimal.NewFromInt(10000)

// Account holds a user's cash balance. The balance is mutated only by the
// trade engine and is never negative after a committed trade. Version is an
// optimistic-concurrency stamp bumped on every committed trade.
type Account struct {
	ID          string          `json:"id" db:"id"`
	TeamName    string          `json:"team_name" db:"team_name"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	Version     int64           `json:"-" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Player is a tradable instrument. CurrentPrice is written by the external
// advance-day price process; the engine only reads it. BaselinePrice is the
// reference price for performance display.
type Player struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Position      string          `json:"position" db:"position"`
	Team          string          `json:"team" db:"team"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	BaselinePrice decimal.Decimal `json:"baseline_price" db:"baseline_price"`
}

// Holding is an account's open position in one player. At most one row per
// (account, player) pair; quantity is strictly positive while the row
// exists — a position that reaches zero is deleted, not kept at zero.
type Holding struct {
	AccountID        string          `json:"account_id" db:"account_id"`
	PlayerID         string          `json:"player_id" db:"player_id"`
	Quantity         int64           `json:"quantity" db:"quantity"`
	AvgPurchasePrice decimal.Decimal `json:"avg_purchase_price" db:"avg_purchase_price"`
}

// Transaction side values.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Transaction is an immutable record of an executed trade. Once created,
// these are never modified or deleted; they are the sole source of truth
// for historical activity.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	AccountID     string          `json:"account_id" db:"account_id"`
	PlayerID      string          `json:"player_id" db:"player_id"`
	Side          string          `json:"type" db:"type"` // BUY or SELL
	Quantity      int64           `json:"quantity" db:"quantity"`
	PricePerShare decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	TotalPrice    decimal.Decimal `json:"total_price" db:"total_price"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// SettlementResult is the outcome of a successful trade.
type SettlementResult struct {
	PricePerShare decimal.Decimal `json:"price_per_share"`
	Quantity      int64           `json:"quantity"`
	Total         decimal.Decimal `json:"total"`
	CashRemaining decimal.Decimal `json:"cash_remaining"`
}

// RosterHolding is a holding joined with its player for display.
type RosterHolding struct {
	Holding
	Player Player `json:"player"`
}

// Portfolio is the read-side valuation of one account.
type Portfolio struct {
	AccountID     string          `json:"account_id"`
	TeamName      string          `json:"team_name"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	Holdings      []RosterHolding `json:"holdings"`
}

// LeaderboardEntry is one ranked row of the leaderboard. Ties share a rank
// and the following ranks are skipped (standard competition ranking).
type LeaderboardEntry struct {
	AccountID       string          `json:"id"`
	TeamName        string          `json:"team_name"`
	CashBalance     decimal.Decimal `json:"cash_balance"`
	HoldingsValue   decimal.Decimal `json:"holdings_value"`
	TotalValue      decimal.Decimal `json:"total_value"`
	ChangeFromStart decimal.Decimal `json:"change_from_start"`
	ChangePct       decimal.Decimal `json:"change_pct"`
	Rank            int             `json:"rank"`
}

// MostOwnedPlayer pairs a player name with its distinct-owner count.
type MostOwnedPlayer struct {
	Name       string `json:"name"`
	OwnerCount int    `json:"owner_count"`
}

// LeaderboardStats summarizes league-wide activity.
type LeaderboardStats struct {
	TotalUsers        int              `json:"total_users"`
	AvgPortfolioValue decimal.Decimal  `json:"avg_portfolio_value"`
	TradesToday       int              `json:"trades_today"`
	MostOwnedPlayer   *MostOwnedPlayer `json:"most_owned_player"`
}
