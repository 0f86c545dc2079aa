package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/model"
)

type holdingKey struct {
	accountID string
	playerID  string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	players      map[string]*model.Player
	holdings     map[holdingKey]*model.Holding
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		players:  make(map[string]*model.Player),
		holdings: make(map[holdingKey]*model.Holding),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	copy := *a
	s.accounts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	return accounts, nil
}

func (s *MemoryStore) CreatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.ID]; ok {
		return fmt.Errorf("player %s already exists", p.ID)
	}
	copy := *p
	s.players[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrPlayerNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPlayers(_ context.Context) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, *p)
	}
	return players, nil
}

func (s *MemoryStore) UpdatePlayerPrice(_ context.Context, id string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return fmt.Errorf("player %s: %w", id, ErrPlayerNotFound)
	}
	p.CurrentPrice = price
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, accountID, playerID string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey{accountID, playerID}]
	if !ok {
		return nil, fmt.Errorf("holding %s/%s: %w", accountID, playerID, ErrHoldingNotFound)
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, accountID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for _, h := range s.holdings {
		if h.AccountID == accountID {
			holdings = append(holdings, *h)
		}
	}
	return holdings, nil
}

func (s *MemoryStore) ListAllHoldings(_ context.Context) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holdings := make([]model.Holding, 0, len(s.holdings))
	for _, h := range s.holdings {
		holdings = append(holdings, *h)
	}
	return holdings, nil
}

// ApplyTrade applies the mutation under one lock so no reader can observe
// a partially applied trade. The account version check makes concurrent
// writers of the same account lose cleanly instead of clobbering cash.
func (s *MemoryStore) ApplyTrade(_ context.Context, mut TradeMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[mut.AccountID]
	if !ok {
		return fmt.Errorf("account %s: %w", mut.AccountID, ErrAccountNotFound)
	}
	if a.Version != mut.AccountVersion {
		return ErrVersionConflict
	}

	a.CashBalance = mut.NewCashBalance
	a.Version++

	key := holdingKey{mut.AccountID, mut.Transaction.PlayerID}
	switch {
	case mut.RemoveHolding:
		delete(s.holdings, key)
	case mut.Holding != nil:
		copy := *mut.Holding
		s.holdings[key] = &copy
	}

	s.transactions = append(s.transactions, mut.Transaction)
	return nil
}

func (s *MemoryStore) GetTransactionsByAccount(_ context.Context, accountID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.transactions {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Transaction, len(s.transactions))
	copy(result, s.transactions)
	return result, nil
}
