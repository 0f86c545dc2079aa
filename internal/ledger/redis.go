package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: player lookups (every trade reads a price)
// and per-account holdings (portfolio, roster, leaderboard). Writes go to
// the primary store and invalidate the affected keys.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.CreatePlayer(ctx, p); err != nil {
		return err
	}
	s.cachePlayer(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePlayerPrice(ctx context.Context, id string, price decimal.Decimal) error {
	if err := s.primary.UpdatePlayerPrice(ctx, id, price); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the fresh price.
	s.rdb.Del(ctx, playerKey(id))
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, mut TradeMutation) error {
	if err := s.primary.ApplyTrade(ctx, mut); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(mut.AccountID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	data, err := s.rdb.Get(ctx, playerKey(id)).Bytes()
	if err == nil {
		var p model.Player
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePlayer(ctx, p)
	return p, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(accountID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(accountID), data, s.ttl)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

// GetAccount always hits the primary: a stale cash balance would let the
// engine validate a buy against money already spent.
func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

// GetHolding always hits the primary for the same reason as GetAccount:
// the engine validates sells against it.
func (s *CachedStore) GetHolding(ctx context.Context, accountID, playerID string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, accountID, playerID)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	return s.primary.ListPlayers(ctx)
}

func (s *CachedStore) ListAllHoldings(ctx context.Context) ([]model.Holding, error) {
	return s.primary.ListAllHoldings(ctx)
}

func (s *CachedStore) GetTransactionsByAccount(ctx context.Context, accountID string) ([]model.Transaction, error) {
	return s.primary.GetTransactionsByAccount(ctx, accountID)
}

func (s *CachedStore) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cachePlayer(ctx context.Context, p *model.Player) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, playerKey(p.ID), data, s.ttl)
	}
}

func playerKey(id string) string { return fmt.Sprintf("player:%s", id) }

func holdingsKey(accountID string) string { return fmt.Sprintf("holdings:%s", accountID) }
