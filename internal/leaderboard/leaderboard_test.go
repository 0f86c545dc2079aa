package leaderboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/leaderboard"
	"github.com/buylow/trade-engine/internal/ledger"
	"github.com/buylow/trade-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func addAccount(t *testing.T, ms *ledger.MemoryStore, id, team string, cash decimal.Decimal) {
	t.Helper()
	err := ms.CreateAccount(context.Background(), &model.Account{
		ID: id, TeamName: team, CashBalance: cash, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}

func addHolding(t *testing.T, ms *ledger.MemoryStore, accountID, playerID string, qty int64, avg decimal.Decimal) {
	t.Helper()
	// Go through ApplyTrade so the store stays on its own write path.
	a, err := ms.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account %s: %v", accountID, err)
	}
	err = ms.ApplyTrade(context.Background(), ledger.TradeMutation{
		AccountID:      accountID,
		AccountVersion: a.Version,
		NewCashBalance: a.CashBalance,
		Holding: &model.Holding{
			AccountID: accountID, PlayerID: playerID,
			Quantity: qty, AvgPurchasePrice: avg,
		},
		Transaction: model.Transaction{
			ID: accountID + "-" + playerID, AccountID: accountID, PlayerID: playerID,
			Side: model.SideBuy, Quantity: qty, PricePerShare: avg,
			TotalPrice: avg.Mul(decimal.NewFromInt(qty)), CreatedAt: time.Now().UTC(),
		},
	})
	if err != nil {
		t.Fatalf("seed holding %s/%s: %v", accountID, playerID, err)
	}
}

func TestStandings_ValuesAndOrder(t *testing.T) {
	ms := ledger.NewMemoryStore()
	ctx := context.Background()

	ms.CreatePlayer(ctx, &model.Player{ID: "p1", Name: "Josh Allen", CurrentPrice: d(720), BaselinePrice: d(650)})

	addAccount(t, ms, "a1", "Alpha", d(2000))
	addHolding(t, ms, "a1", "p1", 10, d(650)) // holdings 7200, total 9200

	addAccount(t, ms, "a2", "Bravo", d(11000)) // total 11000

	svc := leaderboard.NewService(ms)
	entries, err := svc.Standings(ctx)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if entries[0].TeamName != "Bravo" || entries[0].Rank != 1 {
		t.Errorf("expected Bravo first at rank 1, got %s rank %d", entries[0].TeamName, entries[0].Rank)
	}
	if !entries[0].ChangeFromStart.Equal(d(1000)) {
		t.Errorf("expected change 1000, got %s", entries[0].ChangeFromStart)
	}
	if !entries[0].ChangePct.Equal(d(10)) {
		t.Errorf("expected change pct 10, got %s", entries[0].ChangePct)
	}

	if entries[1].TeamName != "Alpha" || entries[1].Rank != 2 {
		t.Errorf("expected Alpha second at rank 2, got %s rank %d", entries[1].TeamName, entries[1].Rank)
	}
	if !entries[1].HoldingsValue.Equal(d(7200)) {
		t.Errorf("expected holdings value 7200, got %s", entries[1].HoldingsValue)
	}
	if !entries[1].TotalValue.Equal(d(9200)) {
		t.Errorf("expected total 9200, got %s", entries[1].TotalValue)
	}
}

func TestStandings_TiedRanksSkipFollowing(t *testing.T) {
	ms := ledger.NewMemoryStore()

	// One leader, a three-way tie below, then one more: 1, 2, 2, 2, 5.
	addAccount(t, ms, "a1", "Leader", d(12000))
	addAccount(t, ms, "a2", "TieA", d(9000))
	addAccount(t, ms, "a3", "TieB", d(9000))
	addAccount(t, ms, "a4", "TieC", d(9000))
	addAccount(t, ms, "a5", "Last", d(8000))

	svc := leaderboard.NewService(ms)
	entries, err := svc.Standings(context.Background())
	if err != nil {
		t.Fatalf("standings: %v", err)
	}

	wantRanks := []int{1, 2, 2, 2, 5}
	if len(entries) != len(wantRanks) {
		t.Fatalf("expected %d entries, got %d", len(wantRanks), len(entries))
	}
	for i, want := range wantRanks {
		if entries[i].Rank != want {
			t.Errorf("entry %d (%s): expected rank %d, got %d",
				i, entries[i].TeamName, want, entries[i].Rank)
		}
	}
}

func TestStats(t *testing.T) {
	ms := ledger.NewMemoryStore()
	ctx := context.Background()

	ms.CreatePlayer(ctx, &model.Player{ID: "p1", Name: "Josh Allen", CurrentPrice: d(100)})
	ms.CreatePlayer(ctx, &model.Player{ID: "p2", Name: "Travis Kelce", CurrentPrice: d(100)})

	addAccount(t, ms, "a1", "Alpha", d(10000))
	addAccount(t, ms, "a2", "Bravo", d(10000))
	addHolding(t, ms, "a1", "p1", 1, d(100))
	addHolding(t, ms, "a2", "p1", 2, d(100))
	addHolding(t, ms, "a2", "p2", 1, d(100))

	svc := leaderboard.NewService(ms)
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.TotalUsers != 2 {
		t.Errorf("expected 2 users, got %d", stats.TotalUsers)
	}
	if stats.TradesToday != 3 {
		t.Errorf("expected 3 trades today, got %d", stats.TradesToday)
	}
	if stats.MostOwnedPlayer == nil {
		t.Fatal("expected a most-owned player")
	}
	if stats.MostOwnedPlayer.Name != "Josh Allen" || stats.MostOwnedPlayer.OwnerCount != 2 {
		t.Errorf("expected Josh Allen owned by 2, got %s by %d",
			stats.MostOwnedPlayer.Name, stats.MostOwnedPlayer.OwnerCount)
	}
}
