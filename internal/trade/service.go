// Package trade provides the HTTP handlers for executing trades and for
// the read-side queries other layers depend on: portfolio, roster, player
// catalog, transaction history, leaderboard, and the consistency audit.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/buylow/trade-engine/internal/audit"
	"github.com/buylow/trade-engine/internal/engine"
	"github.com/buylow/trade-engine/internal/ledger"
	"github.com/buylow/trade-engine/internal/leaderboard"
	"github.com/buylow/trade-engine/internal/metrics"
	"github.com/buylow/trade-engine/internal/model"
)

// Service handles trade execution and read-side queries over HTTP.
type Service struct {
	store   ledger.Store
	engine  *engine.Engine
	board   *leaderboard.Service
	checker *audit.Checker
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st ledger.Store, eng *engine.Engine, hub *WSHub) *Service {
	return &Service{
		store:   st,
		engine:  eng,
		board:   leaderboard.NewService(st),
		checker: audit.NewChecker(st),
		wsHub:   hub,
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trade/buy and /trade/sell.
// Quantity defaults to 1 when omitted; an explicit zero is rejected.
type TradeRequest struct {
	AccountID string `json:"account_id"`
	PlayerID  string `json:"player_id"`
	Quantity  *int64 `json:"quantity"`
}

// CreateAccountRequest is the JSON body for account onboarding.
type CreateAccountRequest struct {
	TeamName string `json:"team_name"`
}

// UpdatePriceRequest is the JSON body for the advance-day price write.
type UpdatePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// --- Trade execution ---

// BuyPlayer handles POST /api/v1/trade/buy.
func (s *Service) BuyPlayer(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, model.SideBuy)
}

// SellPlayer handles POST /api/v1/trade/sell.
func (s *Service) SellPlayer(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, model.SideSell)
}

func (s *Service) executeTrade(w http.ResponseWriter, r *http.Request, side string) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		writeError(w, "player_id is required", http.StatusBadRequest)
		return
	}
	quantity := int64(1)
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	start := time.Now()
	var result *model.SettlementResult
	var err error
	if side == model.SideBuy {
		result, err = s.engine.Buy(r.Context(), req.AccountID, req.PlayerID, quantity)
	} else {
		result, err = s.engine.Sell(r.Context(), req.AccountID, req.PlayerID, quantity)
	}
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeError(w, err.Error(), tradeStatus(err))
		return
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "trade_executed",
			AccountID:     req.AccountID,
			PlayerID:      req.PlayerID,
			Side:          side,
			Quantity:      quantity,
			PricePerShare: result.PricePerShare.String(),
			Total:         result.Total.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// tradeStatus maps engine failures to HTTP status codes. Error messages
// pass through verbatim; the UI displays them as-is.
func tradeStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAccountNotFound),
		errors.Is(err, engine.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientShares),
		errors.Is(err, engine.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, engine.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, engine.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, engine.ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, engine.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, engine.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, engine.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, engine.ErrConcurrentModification):
		return "concurrent_modification"
	default:
		return "internal"
	}
}

// --- Accounts ---

// CreateAccount handles POST /api/v1/accounts. Every account starts with
// the fixed starting balance.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TeamName == "" {
		writeError(w, "team_name is required", http.StatusBadRequest)
		return
	}

	account := &model.Account{
		ID:          uuid.New().String(),
		TeamName:    req.TeamName,
		CashBalance: model.StartingBalance,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("account created", "id", account.ID, "team", account.TeamName)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// GetTransactions handles GET /api/v1/accounts/{accountID}/transactions.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	transactions, err := s.store.GetTransactionsByAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if transactions == nil {
		transactions = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// --- Portfolio / roster ---

// GetPortfolio handles GET /api/v1/portfolio/{accountID}.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	roster, err := s.rosterHoldings(r, accountID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}

	holdingsValue := decimal.Zero
	for _, h := range roster {
		value := h.Player.CurrentPrice.Mul(decimal.NewFromInt(h.Quantity))
		holdingsValue = holdingsValue.Add(value)
	}

	portfolio := model.Portfolio{
		AccountID:     account.ID,
		TeamName:      account.TeamName,
		CashBalance:   account.CashBalance,
		HoldingsValue: holdingsValue,
		TotalValue:    account.CashBalance.Add(holdingsValue),
		Holdings:      roster,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// GetRoster handles GET /api/v1/roster/{accountID}.
func (s *Service) GetRoster(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	if _, err := s.store.GetAccount(r.Context(), accountID); err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	roster, err := s.rosterHoldings(r, accountID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(roster)
}

func (s *Service) rosterHoldings(r *http.Request, accountID string) ([]model.RosterHolding, error) {
	ctx := r.Context()
	holdings, err := s.store.ListHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}

	roster := make([]model.RosterHolding, 0, len(holdings))
	for _, h := range holdings {
		player, err := s.store.GetPlayer(ctx, h.PlayerID)
		if err != nil {
			return nil, err
		}
		roster = append(roster, model.RosterHolding{Holding: h, Player: *player})
	}
	return roster, nil
}

// --- Players ---

// ListPlayers handles GET /api/v1/players.
func (s *Service) ListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.store.ListPlayers(r.Context())
	if err != nil {
		writeError(w, "failed to list players", http.StatusInternalServerError)
		return
	}
	if players == nil {
		players = []model.Player{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(players)
}

// GetPlayer handles GET /api/v1/players/{playerID}.
func (s *Service) GetPlayer(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	player, err := s.store.GetPlayer(r.Context(), playerID)
	if err != nil {
		writeError(w, "player not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(player)
}

// UpdatePlayerPrice handles PUT /api/v1/admin/players/{playerID}/price.
// This is the advance-day process's write path; the trade engine itself
// never writes prices.
func (s *Service) UpdatePlayerPrice(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	var req UpdatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdatePlayerPrice(r.Context(), playerID, req.Price); err != nil {
		if errors.Is(err, ledger.ErrPlayerNotFound) {
			writeError(w, "player not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to update price", http.StatusInternalServerError)
		return
	}

	slog.Info("player price updated", "player", playerID, "price", req.Price.String())

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "price_updated",
			PlayerID:      playerID,
			PricePerShare: req.Price.String(),
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Leaderboard ---

// GetLeaderboard handles GET /api/v1/leaderboard.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.board.Standings(r.Context())
	if err != nil {
		writeError(w, "failed to compute leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetLeaderboardStats handles GET /api/v1/leaderboard/stats.
func (s *Service) GetLeaderboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.board.Stats(r.Context())
	if err != nil {
		writeError(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// --- Audit ---

// RunAudit handles GET /api/v1/admin/audit.
func (s *Service) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.checker.Run(r.Context())
	if err != nil {
		writeError(w, "audit failed to run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
