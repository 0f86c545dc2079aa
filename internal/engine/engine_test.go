package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/engine"
	"github.com/buylow/trade-engine/internal/ledger"
	"github.com/buylow/trade-engine/internal/model"
	"github.com/buylow/trade-engine/internal/oracle"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates an engine over a memory store and static oracle,
// seeded with one account at the starting balance and one player.
func newTestEnv(t *testing.T, opts ...engine.Option) (*engine.Engine, *ledger.MemoryStore, *oracle.StaticOracle) {
	t.Helper()
	ms := ledger.NewMemoryStore()
	po := oracle.NewStaticOracle()

	err := ms.CreateAccount(context.Background(), &model.Account{
		ID:          "acct1",
		TeamName:    "Test Team",
		CashBalance: model.StartingBalance,
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	err = ms.CreatePlayer(context.Background(), &model.Player{
		ID:            "playerX",
		Name:          "Josh Allen",
		Position:      "QB",
		Team:          "BUF",
		CurrentPrice:  d(670),
		BaselinePrice: d(650),
	})
	if err != nil {
		t.Fatalf("failed to seed player: %v", err)
	}
	po.SetPrice("playerX", d(670))

	return engine.New(ms, po, opts...), ms, po
}

func TestBuyThenSell_ConcreteScenario(t *testing.T) {
	eng, ms, po := newTestEnv(t)
	ctx := context.Background()

	// Buy 4 shares at 670.00.
	res, err := eng.Buy(ctx, "acct1", "playerX", 4)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if !res.PricePerShare.Equal(d(670)) {
		t.Errorf("expected price 670, got %s", res.PricePerShare)
	}
	if res.Quantity != 4 {
		t.Errorf("expected quantity 4, got %d", res.Quantity)
	}
	if !res.Total.Equal(d(2680)) {
		t.Errorf("expected total 2680, got %s", res.Total)
	}
	if !res.CashRemaining.Equal(d(7320)) {
		t.Errorf("expected cash 7320, got %s", res.CashRemaining)
	}

	h, err := ms.GetHolding(ctx, "acct1", "playerX")
	if err != nil {
		t.Fatalf("holding missing after buy: %v", err)
	}
	if h.Quantity != 4 || !h.AvgPurchasePrice.Equal(d(670)) {
		t.Errorf("expected holding 4 @ 670, got %d @ %s", h.Quantity, h.AvgPurchasePrice)
	}

	// Price moves to 720.00, sell 1 share.
	po.SetPrice("playerX", d(720))

	res, err = eng.Sell(ctx, "acct1", "playerX", 1)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if !res.PricePerShare.Equal(d(720)) {
		t.Errorf("expected price 720, got %s", res.PricePerShare)
	}
	if !res.Total.Equal(d(720)) {
		t.Errorf("expected total 720, got %s", res.Total)
	}
	if !res.CashRemaining.Equal(d(8040)) {
		t.Errorf("expected cash 8040, got %s", res.CashRemaining)
	}

	// Remaining position keeps its cost basis.
	h, err = ms.GetHolding(ctx, "acct1", "playerX")
	if err != nil {
		t.Fatalf("holding missing after partial sell: %v", err)
	}
	if h.Quantity != 3 || !h.AvgPurchasePrice.Equal(d(670)) {
		t.Errorf("expected holding 3 @ 670, got %d @ %s", h.Quantity, h.AvgPurchasePrice)
	}

	txns, _ := ms.GetTransactionsByAccount(ctx, "acct1")
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if txns[0].Side != model.SideBuy || !txns[0].TotalPrice.Equal(d(2680)) {
		t.Errorf("unexpected BUY record: %+v", txns[0])
	}
	if txns[1].Side != model.SideSell || !txns[1].TotalPrice.Equal(d(720)) {
		t.Errorf("unexpected SELL record: %+v", txns[1])
	}
}

func TestBuy_WeightedAverage(t *testing.T) {
	eng, ms, po := newTestEnv(t)
	ctx := context.Background()

	po.SetPrice("playerX", d(100))
	if _, err := eng.Buy(ctx, "acct1", "playerX", 5); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}

	po.SetPrice("playerX", d(200))
	if _, err := eng.Buy(ctx, "acct1", "playerX", 5); err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	h, err := ms.GetHolding(ctx, "acct1", "playerX")
	if err != nil {
		t.Fatalf("holding missing: %v", err)
	}
	if h.Quantity != 10 {
		t.Errorf("expected quantity 10, got %d", h.Quantity)
	}
	if !h.AvgPurchasePrice.Equal(d(150)) {
		t.Errorf("expected avg 150, got %s", h.AvgPurchasePrice)
	}
}

func TestSell_FullLiquidationRemovesHolding(t *testing.T) {
	eng, ms, po := newTestEnv(t)
	ctx := context.Background()

	po.SetPrice("playerX", d(100))
	if _, err := eng.Buy(ctx, "acct1", "playerX", 10); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if _, err := eng.Sell(ctx, "acct1", "playerX", 10); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if _, err := ms.GetHolding(ctx, "acct1", "playerX"); !errors.Is(err, ledger.ErrHoldingNotFound) {
		t.Errorf("expected holding to be deleted, got err=%v", err)
	}

	// A subsequent sell of 1 fails with insufficient shares.
	_, err := eng.Sell(ctx, "acct1", "playerX", 1)
	if !errors.Is(err, engine.ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestBuy_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	eng, ms, po := newTestEnv(t)
	ctx := context.Background()

	po.SetPrice("playerX", d(670))
	_, err := eng.Buy(ctx, "acct1", "playerX", 20) // 13400 > 10000
	if !errors.Is(err, engine.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	a, _ := ms.GetAccount(ctx, "acct1")
	if !a.CashBalance.Equal(model.StartingBalance) {
		t.Errorf("cash changed on rejected buy: %s", a.CashBalance)
	}
	if _, err := ms.GetHolding(ctx, "acct1", "playerX"); !errors.Is(err, ledger.ErrHoldingNotFound) {
		t.Errorf("holding created on rejected buy: %v", err)
	}
	txns, _ := ms.GetTransactionsByAccount(ctx, "acct1")
	if len(txns) != 0 {
		t.Errorf("transactions recorded on rejected buy: %d", len(txns))
	}
}

func TestBuy_ExactBalanceSucceeds(t *testing.T) {
	eng, ms, po := newTestEnv(t)
	ctx := context.Background()

	po.SetPrice("playerX", d(100))
	res, err := eng.Buy(ctx, "acct1", "playerX", 100) // exactly 10000
	if err != nil {
		t.Fatalf("buy at exact balance should succeed: %v", err)
	}
	if !res.CashRemaining.IsZero() {
		t.Errorf("expected zero cash remaining, got %s", res.CashRemaining)
	}

	a, _ := ms.GetAccount(ctx, "acct1")
	if a.CashBalance.IsNegative() {
		t.Errorf("cash went negative: %s", a.CashBalance)
	}
}

func TestTrade_InvalidQuantity(t *testing.T) {
	eng, _, _ := newTestEnv(t)
	ctx := context.Background()

	for _, qty := range []int64{0, -1, -100} {
		if _, err := eng.Buy(ctx, "acct1", "playerX", qty); !errors.Is(err, engine.ErrInvalidQuantity) {
			t.Errorf("buy qty=%d: expected ErrInvalidQuantity, got %v", qty, err)
		}
		if _, err := eng.Sell(ctx, "acct1", "playerX", qty); !errors.Is(err, engine.ErrInvalidQuantity) {
			t.Errorf("sell qty=%d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestTrade_NotFoundErrors(t *testing.T) {
	eng, _, _ := newTestEnv(t)
	ctx := context.Background()

	if _, err := eng.Buy(ctx, "nobody", "playerX", 1); !errors.Is(err, engine.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := eng.Buy(ctx, "acct1", "ghost", 1); !errors.Is(err, engine.ErrPlayerNotFound) {
		t.Errorf("expected ErrPlayerNotFound, got %v", err)
	}
	if _, err := eng.Sell(ctx, "nobody", "playerX", 1); !errors.Is(err, engine.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestBuy_PriceUnavailable(t *testing.T) {
	ms := ledger.NewMemoryStore()
	po := oracle.NewStaticOracle()
	ctx := context.Background()

	ms.CreateAccount(ctx, &model.Account{ID: "acct1", CashBalance: model.StartingBalance})
	ms.CreatePlayer(ctx, &model.Player{ID: "playerX", Name: "Josh Allen"})
	// No price registered with the oracle.

	eng := engine.New(ms, po)
	if _, err := eng.Buy(ctx, "acct1", "playerX", 1); !errors.Is(err, engine.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestBuy_CancelledContextIsNoop(t *testing.T) {
	eng, ms, _ := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Buy(ctx, "acct1", "playerX", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	a, _ := ms.GetAccount(context.Background(), "acct1")
	if !a.CashBalance.Equal(model.StartingBalance) {
		t.Errorf("cash changed on cancelled trade: %s", a.CashBalance)
	}
}

// conflictingStore wraps a store and fails every ApplyTrade with a version
// conflict, as if another trade always commits first.
type conflictingStore struct {
	ledger.Store
}

func (s *conflictingStore) ApplyTrade(context.Context, ledger.TradeMutation) error {
	return ledger.ErrVersionConflict
}

func TestBuy_RetriesExhaustedSurfaceConcurrentModification(t *testing.T) {
	_, ms, po := newTestEnv(t)

	eng := engine.New(&conflictingStore{Store: ms}, po)
	_, err := eng.Buy(context.Background(), "acct1", "playerX", 1)
	if !errors.Is(err, engine.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestBuy_ConcurrentBuysNeverOverspend(t *testing.T) {
	eng, ms, po := newTestEnv(t, engine.WithMaxAttempts(100))
	ctx := context.Background()

	// Each buy costs 1500; 10000 funds exactly 6 of them.
	po.SetPrice("playerX", d(150))

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, insufficient int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Buy(ctx, "acct1", "playerX", 10)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, engine.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 6 {
		t.Errorf("expected exactly 6 successful buys, got %d", successes)
	}
	if insufficient != workers-6 {
		t.Errorf("expected %d insufficient-funds rejections, got %d", workers-6, insufficient)
	}

	a, _ := ms.GetAccount(ctx, "acct1")
	if a.CashBalance.IsNegative() {
		t.Fatalf("cash balance went negative: %s", a.CashBalance)
	}
	if !a.CashBalance.Equal(d(1000)) {
		t.Errorf("expected final cash 1000, got %s", a.CashBalance)
	}

	h, err := ms.GetHolding(ctx, "acct1", "playerX")
	if err != nil {
		t.Fatalf("holding missing: %v", err)
	}
	if h.Quantity != 60 {
		t.Errorf("expected 60 shares held, got %d", h.Quantity)
	}

	txns, _ := ms.GetTransactionsByAccount(ctx, "acct1")
	if len(txns) != 6 {
		t.Errorf("expected 6 transactions, got %d", len(txns))
	}
}

func TestTrade_CashReconcilesWithHistory(t *testing.T) {
	eng, ms, po := newTestEnv(t)
	ctx := context.Background()

	// A mixed sequence with price moves between trades.
	po.SetPrice("playerX", d(100))
	eng.Buy(ctx, "acct1", "playerX", 10)
	po.SetPrice("playerX", d(130))
	eng.Buy(ctx, "acct1", "playerX", 5)
	po.SetPrice("playerX", d(160))
	eng.Sell(ctx, "acct1", "playerX", 8)
	po.SetPrice("playerX", d(90))
	eng.Buy(ctx, "acct1", "playerX", 3)
	eng.Sell(ctx, "acct1", "playerX", 10)

	txns, _ := ms.GetTransactionsByAccount(ctx, "acct1")
	net := decimal.Zero
	for _, txn := range txns {
		if txn.Side == model.SideBuy {
			net = net.Sub(txn.TotalPrice)
		} else {
			net = net.Add(txn.TotalPrice)
		}
	}

	a, _ := ms.GetAccount(ctx, "acct1")
	expected := model.StartingBalance.Add(net)
	if !a.CashBalance.Equal(expected) {
		t.Errorf("cash %s does not reconcile with history (expected %s)", a.CashBalance, expected)
	}
	if a.CashBalance.IsNegative() {
		t.Errorf("cash went negative: %s", a.CashBalance)
	}
}
