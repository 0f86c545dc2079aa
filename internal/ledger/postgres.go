package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, team_name, cash_balance, version, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		a.ID, a.TeamName, a.CashBalance.String(), a.Version, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var cash string

	err := s.pool.QueryRow(ctx,
		`SELECT id, team_name, cash_balance::TEXT, version, created_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.TeamName, &cash, &a.Version, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	a.CashBalance, _ = decimal.NewFromString(cash)
	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, team_name, cash_balance::TEXT, version, created_at
		 FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var cash string
		if err := rows.Scan(&a.ID, &a.TeamName, &cash, &a.Version, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CashBalance, _ = decimal.NewFromString(cash)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, name, position, team, current_price, baseline_price)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC)`,
		p.ID, p.Name, p.Position, p.Team,
		p.CurrentPrice.String(), p.BaselinePrice.String(),
	)
	return err
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	var p model.Player
	var current, baseline string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, position, team, current_price::TEXT, baseline_price::TEXT
		 FROM players WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Position, &p.Team, &current, &baseline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, ErrPlayerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", id, err)
	}

	p.CurrentPrice, _ = decimal.NewFromString(current)
	p.BaselinePrice, _ = decimal.NewFromString(baseline)
	return &p, nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, position, team, current_price::TEXT, baseline_price::TEXT
		 FROM players ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		var p model.Player
		var current, baseline string
		if err := rows.Scan(&p.ID, &p.Name, &p.Position, &p.Team, &current, &baseline); err != nil {
			return nil, err
		}
		p.CurrentPrice, _ = decimal.NewFromString(current)
		p.BaselinePrice, _ = decimal.NewFromString(baseline)
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) UpdatePlayerPrice(ctx context.Context, id string, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET current_price = $2::NUMERIC WHERE id = $1`,
		id, price.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s: %w", id, ErrPlayerNotFound)
	}
	return nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, accountID, playerID string) (*model.Holding, error) {
	var h model.Holding
	var avg string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, player_id, quantity, avg_purchase_price::TEXT
		 FROM holdings WHERE account_id = $1 AND player_id = $2`,
		accountID, playerID).
		Scan(&h.AccountID, &h.PlayerID, &h.Quantity, &avg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("holding %s/%s: %w", accountID, playerID, ErrHoldingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", accountID, playerID, err)
	}

	h.AvgPurchasePrice, _ = decimal.NewFromString(avg)
	return &h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, player_id, quantity, avg_purchase_price::TEXT
		 FROM holdings WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHoldings(rows)
}

func (s *PostgresStore) ListAllHoldings(ctx context.Context) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, player_id, quantity, avg_purchase_price::TEXT
		 FROM holdings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// ApplyTrade commits the balance write, holding upsert/delete, and
// transaction append in one SQL transaction. The conditional account
// update carries the optimistic version check: zero rows affected means
// another trade committed first.
func (s *PostgresStore) ApplyTrade(ctx context.Context, mut TradeMutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET cash_balance = $2::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $3`,
		mut.AccountID, mut.NewCashBalance.String(), mut.AccountVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the account vanished or the version moved; distinguish so
		// the engine retries only genuine conflicts.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`,
			mut.AccountID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("account %s: %w", mut.AccountID, ErrAccountNotFound)
		}
		return ErrVersionConflict
	}

	switch {
	case mut.RemoveHolding:
		if _, err := tx.Exec(ctx,
			`DELETE FROM holdings WHERE account_id = $1 AND player_id = $2`,
			mut.AccountID, mut.Transaction.PlayerID,
		); err != nil {
			return err
		}
	case mut.Holding != nil:
		if _, err := tx.Exec(ctx,
			`INSERT INTO holdings (account_id, player_id, quantity, avg_purchase_price)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (account_id, player_id)
			 DO UPDATE SET quantity = EXCLUDED.quantity,
			               avg_purchase_price = EXCLUDED.avg_purchase_price`,
			mut.Holding.AccountID, mut.Holding.PlayerID,
			mut.Holding.Quantity, mut.Holding.AvgPurchasePrice.String(),
		); err != nil {
			return err
		}
	}

	t := mut.Transaction
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, account_id, player_id, type, quantity, price_per_share, total_price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.AccountID, t.PlayerID, t.Side, t.Quantity,
		t.PricePerShare.String(), t.TotalPrice.String(), t.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTransactionsByAccount(ctx context.Context, accountID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, player_id, type, quantity,
		        price_per_share::TEXT, total_price::TEXT, created_at
		 FROM transactions WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, player_id, type, quantity,
		        price_per_share::TEXT, total_price::TEXT, created_at
		 FROM transactions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanHoldings(rows pgx.Rows) ([]model.Holding, error) {
	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var avg string
		if err := rows.Scan(&h.AccountID, &h.PlayerID, &h.Quantity, &avg); err != nil {
			return nil, err
		}
		h.AvgPurchasePrice, _ = decimal.NewFromString(avg)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	var transactions []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price, total string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.PlayerID, &t.Side, &t.Quantity,
			&price, &total, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.PricePerShare, _ = decimal.NewFromString(price)
		t.TotalPrice, _ = decimal.NewFromString(total)
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}
