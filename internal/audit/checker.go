// Package audit verifies the ledger invariants the trade engine must keep
// continuously true: cash reconciles with the transaction history, holdings
// reconcile with net BUY/SELL quantities, no holding is non-positive, and
// no account's open positions cost more than its starting capital.
package audit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/ledger"
	"github.com/buylow/trade-engine/internal/model"
)

// CheckResult is the outcome of one named invariant check.
type CheckResult struct {
	Name    string   `json:"name"`
	Passed  bool     `json:"passed"`
	Details []string `json:"details"`
}

// Report is the full audit output.
type Report struct {
	Checks []CheckResult `json:"checks"`
	Passed bool          `json:"passed"`
}

// Checker runs the consistency checks against a store.
type Checker struct {
	store ledger.Store
}

// NewChecker creates a consistency checker.
func NewChecker(store ledger.Store) *Checker {
	return &Checker{store: store}
}

type pairKey struct {
	accountID string
	playerID  string
}

// Run executes all checks and returns the aggregate report.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	accounts, err := c.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	holdings, err := c.store.ListAllHoldings(ctx)
	if err != nil {
		return nil, err
	}
	transactions, err := c.store.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Passed: true}
	add := func(r CheckResult) {
		if r.Passed && len(r.Details) == 0 {
			r.Details = []string{"ok"}
		}
		report.Checks = append(report.Checks, r)
		report.Passed = report.Passed && r.Passed
	}

	add(checkCashReconciles(accounts, transactions))
	add(checkHoldingsReconcile(holdings, transactions))
	add(checkHoldingsPositive(holdings))
	add(checkOpenSpendWithinCapital(holdings))

	return report, nil
}

// checkCashReconciles verifies, per account:
// cash == starting balance − Σ BUY totals + Σ SELL totals.
func checkCashReconciles(accounts []model.Account, transactions []model.Transaction) CheckResult {
	r := CheckResult{Name: "cash balance reconciles with transaction history", Passed: true}

	netByAccount := make(map[string]decimal.Decimal)
	for _, t := range transactions {
		switch t.Side {
		case model.SideBuy:
			netByAccount[t.AccountID] = netByAccount[t.AccountID].Sub(t.TotalPrice)
		case model.SideSell:
			netByAccount[t.AccountID] = netByAccount[t.AccountID].Add(t.TotalPrice)
		}
	}

	for _, a := range accounts {
		expected := model.StartingBalance.Add(netByAccount[a.ID])
		if !expected.Equal(a.CashBalance) {
			r.Passed = false
			r.Details = append(r.Details, fmt.Sprintf(
				"%s: expected cash %s, actual %s",
				a.TeamName, expected.StringFixed(model.MoneyScale),
				a.CashBalance.StringFixed(model.MoneyScale)))
		}
	}
	return r
}

// checkHoldingsReconcile verifies, per (account, player) pair:
// holding quantity == Σ BUY quantities − Σ SELL quantities, and that a
// non-zero net quantity always has a holding row.
func checkHoldingsReconcile(holdings []model.Holding, transactions []model.Transaction) CheckResult {
	r := CheckResult{Name: "holdings reconcile with net transaction quantities", Passed: true}

	netByPair := make(map[pairKey]int64)
	for _, t := range transactions {
		key := pairKey{t.AccountID, t.PlayerID}
		switch t.Side {
		case model.SideBuy:
			netByPair[key] += t.Quantity
		case model.SideSell:
			netByPair[key] -= t.Quantity
		}
	}

	heldByPair := make(map[pairKey]int64)
	for _, h := range holdings {
		heldByPair[pairKey{h.AccountID, h.PlayerID}] = h.Quantity
	}

	for key, net := range netByPair {
		if held := heldByPair[key]; held != net {
			r.Passed = false
			r.Details = append(r.Details, fmt.Sprintf(
				"%s/%s: holding=%d, net transactions=%d", key.accountID, key.playerID, held, net))
		}
	}
	for key, held := range heldByPair {
		if _, ok := netByPair[key]; !ok && held != 0 {
			r.Passed = false
			r.Details = append(r.Details, fmt.Sprintf(
				"%s/%s: holding=%d with no transactions", key.accountID, key.playerID, held))
		}
	}
	return r
}

// checkHoldingsPositive verifies no holding row exists at quantity <= 0.
func checkHoldingsPositive(holdings []model.Holding) CheckResult {
	r := CheckResult{Name: "no non-positive holdings", Passed: true}
	for _, h := range holdings {
		if h.Quantity <= 0 {
			r.Passed = false
			r.Details = append(r.Details, fmt.Sprintf(
				"%s/%s: quantity=%d", h.AccountID, h.PlayerID, h.Quantity))
		}
	}
	return r
}

// checkOpenSpendWithinCapital verifies no account's open positions cost
// more than the starting capital.
func checkOpenSpendWithinCapital(holdings []model.Holding) CheckResult {
	r := CheckResult{Name: "open position cost within starting capital", Passed: true}

	spendByAccount := make(map[string]decimal.Decimal)
	for _, h := range holdings {
		cost := h.AvgPurchasePrice.Mul(decimal.NewFromInt(h.Quantity))
		spendByAccount[h.AccountID] = spendByAccount[h.AccountID].Add(cost)
	}
	for accountID, spend := range spendByAccount {
		if spend.GreaterThan(model.StartingBalance) {
			r.Passed = false
			r.Details = append(r.Details, fmt.Sprintf(
				"%s: open positions cost %s", accountID, spend.StringFixed(model.MoneyScale)))
		}
	}
	return r
}
