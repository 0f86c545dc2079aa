// Package leaderboard is the read-side aggregation over the ledger: total
// portfolio value per account and league-wide stats. It never writes; the
// trade engine's commit atomicity guarantees it can never observe a cash
// debit without its holding credit.
package leaderboard

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/ledger"
	"github.com/buylow/trade-engine/internal/model"
)

// Service computes leaderboard standings and stats from the store.
type Service struct {
	store ledger.Store
	now   func() time.Time
}

// NewService creates a leaderboard service.
func NewService(store ledger.Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Standings returns all accounts ranked by total value descending.
// total value = cash + Σ(holding quantity × player current price).
// Ties use standard competition ranking: tied accounts share a rank and
// the following ranks are skipped (10, 10, 10, 13 — never 10, 10, 10, 11).
func (s *Service) Standings(ctx context.Context) ([]model.LeaderboardEntry, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := s.store.ListAllHoldings(ctx)
	if err != nil {
		return nil, err
	}
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, err
	}

	priceByPlayer := make(map[string]decimal.Decimal, len(players))
	for _, p := range players {
		priceByPlayer[p.ID] = p.CurrentPrice
	}

	valueByAccount := make(map[string]decimal.Decimal)
	for _, h := range holdings {
		price := priceByPlayer[h.PlayerID]
		value := price.Mul(decimal.NewFromInt(h.Quantity))
		valueByAccount[h.AccountID] = valueByAccount[h.AccountID].Add(value)
	}

	hundred := decimal.NewFromInt(100)
	entries := make([]model.LeaderboardEntry, 0, len(accounts))
	for _, a := range accounts {
		holdingsValue := valueByAccount[a.ID]
		total := a.CashBalance.Add(holdingsValue)
		change := total.Sub(model.StartingBalance)
		entries = append(entries, model.LeaderboardEntry{
			AccountID:       a.ID,
			TeamName:        a.TeamName,
			CashBalance:     a.CashBalance,
			HoldingsValue:   holdingsValue,
			TotalValue:      total,
			ChangeFromStart: change,
			ChangePct:       change.Div(model.StartingBalance).Mul(hundred).Round(model.MoneyScale),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalValue.GreaterThan(entries[j].TotalValue)
	})

	for i := range entries {
		if i > 0 && entries[i].TotalValue.Equal(entries[i-1].TotalValue) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}

	return entries, nil
}

// Stats summarizes league activity: user count, average portfolio value,
// trades since midnight UTC, and the player held by the most accounts.
func (s *Service) Stats(ctx context.Context) (*model.LeaderboardStats, error) {
	entries, err := s.Standings(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.LeaderboardStats{TotalUsers: len(entries)}

	if len(entries) > 0 {
		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.TotalValue)
		}
		stats.AvgPortfolioValue = sum.Div(decimal.NewFromInt(int64(len(entries)))).Round(model.MoneyScale)
	}

	transactions, err := s.store.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	dayStart := s.now().Truncate(24 * time.Hour)
	for _, t := range transactions {
		if !t.CreatedAt.Before(dayStart) {
			stats.TradesToday++
		}
	}

	holdings, err := s.store.ListAllHoldings(ctx)
	if err != nil {
		return nil, err
	}
	ownersByPlayer := make(map[string]int)
	for _, h := range holdings {
		ownersByPlayer[h.PlayerID]++
	}
	var topPlayer string
	var topOwners int
	for playerID, owners := range ownersByPlayer {
		if owners > topOwners {
			topPlayer, topOwners = playerID, owners
		}
	}
	if topOwners > 0 {
		p, err := s.store.GetPlayer(ctx, topPlayer)
		if err != nil {
			return nil, err
		}
		stats.MostOwnedPlayer = &model.MostOwnedPlayer{Name: p.Name, OwnerCount: topOwners}
	}

	return stats, nil
}
