// Package trade provides the HTTP handlers for settlements, quotes,
// portfolios, leaderboards, and the alert/limit-order registry.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/ledger"
	"github.com/stonksbot/trade-engine/internal/model"
	"github.com/stonksbot/trade-engine/internal/quote"
	"github.com/stonksbot/trade-engine/internal/store"
)

// Service handles the HTTP API. Settlement concurrency is delegated to the
// ledger engine, which serializes per user.
type Service struct {
	engine *ledger.Engine
	store  store.Store
	quotes quote.Source
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
	logger *slog.Logger
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(engine *ledger.Engine, st store.Store, quotes quote.Source, hub *WSHub, logger *slog.Logger) *Service {
	return &Service{
		engine: engine,
		store:  st,
		quotes: quotes,
		wsHub:  hub,
		logger: logger.With("component", "api"),
	}
}

// Routes mounts all API handlers on the router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/trade", s.ExecuteTrade)
	r.Get("/quotes/{symbol}", s.GetQuote)
	r.Get("/portfolio/{userID}", s.GetPortfolio)
	r.Get("/leaderboard", s.GetLeaderboard)

	r.Get("/users", s.ListUsers)
	r.Put("/users/{userID}/name", s.SetDisplayName)
	r.Get("/users/{userID}/history", s.GetHistory)
	r.Post("/users/{userID}/reset", s.ResetUser)
	r.Post("/users/{userID}/liquidate", s.Liquidate)

	r.Post("/alerts", s.CreateAlert)
	r.Get("/alerts", s.ListAlerts)
	r.Delete("/alerts/{alertID}", s.DeleteAlert)

	r.Post("/orders", s.CreateOrder)
	r.Get("/orders", s.ListOrders)
	r.Delete("/orders/{orderID}", s.DeleteOrder)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trade. Volume accepts a unit
// count, a "$"-prefixed notional, or the literal "max".
type TradeRequest struct {
	UserID     string `json:"user_id"`
	AssetCode  string `json:"asset_code"`
	AssetClass string `json:"asset_class"` // "stock" or "crypto"
	Side       string `json:"side"`        // "buy" or "sell"
	Volume     string `json:"volume"`
}

// QuoteResponse is the JSON body returned from GET /quotes/{symbol}.
type QuoteResponse struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	PriorClose  decimal.Decimal `json:"prior_close"`
	DailyChange decimal.Decimal `json:"daily_change"`
}

// AlertRequest is the JSON body for POST /alerts.
type AlertRequest struct {
	ChannelID  string          `json:"channel_id"`
	AssetCode  string          `json:"asset_code"`
	AssetClass string          `json:"asset_class"`
	Price      decimal.Decimal `json:"price"`
	IsLessThan bool            `json:"is_less_than"`
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID     string          `json:"user_id"`
	ChannelID  string          `json:"channel_id"`
	AssetCode  string          `json:"asset_code"`
	AssetClass string          `json:"asset_class"`
	Volume     string          `json:"volume"`
	Price      decimal.Decimal `json:"price"`
	IsSale     bool            `json:"is_sale"`
	IsLessThan bool            `json:"is_less_than"`
}

// NameRequest is the JSON body for PUT /users/{userID}/name.
type NameRequest struct {
	DisplayName string `json:"display_name"`
}

// --- HTTP Handlers ---

// ExecuteTrade handles POST /api/v1/trade.
// Looks up the live price and settles the buy or sell against it.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Side != "buy" && req.Side != "sell" {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	code, err := model.NormalizeCode(req.AssetCode)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	class, err := model.ParseClass(req.AssetClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Volume) == "" {
		writeError(w, "volume is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	q, err := s.quotes.Lookup(ctx, code, class)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	receipt, err := s.engine.SettleSpec(ctx, req.UserID, code, req.Volume, q.Price, req.Side == "sell", class)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "settlement",
			UserID:     receipt.UserID,
			AssetCode:  receipt.AssetCode,
			Side:       req.Side,
			Volume:     receipt.Volume.String(),
			Price:      receipt.PricePerUnit.String(),
			NewBalance: receipt.NewBalance.String(),
		})
	}

	writeJSON(w, http.StatusOK, receipt)
}

// GetQuote handles GET /api/v1/quotes/{symbol}?class=stock|crypto.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	code, err := model.NormalizeCode(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	class, err := model.ParseClass(r.URL.Query().Get("class"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, err := s.quotes.Lookup(r.Context(), code, class)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QuoteResponse{
		Symbol:      q.Symbol,
		Name:        q.Name,
		Price:       q.Price,
		PriorClose:  q.PriorClose,
		DailyChange: q.Price.Sub(q.PriorClose),
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
// Values every open position at the live price.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetLeaderboard handles GET /api/v1/leaderboard?users=a,b,c.
// Without the users parameter every known user is ranked.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	var candidates []string
	if raw := r.URL.Query().Get("users"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				candidates = append(candidates, id)
			}
		}
	}

	entries, err := s.engine.Leaderboard(r.Context(), candidates)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListUsers handles GET /api/v1/users.
func (s *Service) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, "failed to list users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// SetDisplayName handles PUT /api/v1/users/{userID}/name.
func (s *Service) SetDisplayName(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		writeError(w, "display_name is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.SetDisplayName(r.Context(), chi.URLParam(r, "userID"), req.DisplayName); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory handles GET /api/v1/users/{userID}/history.
// Returns the most recent transactions, newest first.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := s.engine.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// ResetUser handles POST /api/v1/users/{userID}/reset.
// Restores the seed balance and wipes all holdings.
func (s *Service) ResetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.engine.Reset(r.Context(), userID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "reset"})
}

// Liquidate handles POST /api/v1/users/{userID}/liquidate.
// Sells off every holding at the live price; partial failures are reported
// per asset.
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.Liquidate(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if results == nil {
		results = []ledger.LiquidationResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// CreateAlert handles POST /api/v1/alerts.
func (s *Service) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	code, err := model.NormalizeCode(req.AssetCode)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	class, err := model.ParseClass(req.AssetClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}

	alert := &model.Alert{
		ID:           uuid.New().String(),
		ChannelID:    req.ChannelID,
		AssetCode:    code,
		IsCrypto:     class.IsCrypto(),
		PricePerUnit: req.Price,
		IsLessThan:   req.IsLessThan,
	}
	if err := s.store.CreateAlert(r.Context(), alert); err != nil {
		writeError(w, "failed to create alert", http.StatusInternalServerError)
		return
	}

	s.logger.Info("alert registered", "alert", alert.ID, "asset", code, "threshold", req.Price.String())
	writeJSON(w, http.StatusCreated, alert)
}

// ListAlerts handles GET /api/v1/alerts.
func (s *Service) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.ListAlerts(r.Context())
	if err != nil {
		writeError(w, "failed to list alerts", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// DeleteAlert handles DELETE /api/v1/alerts/{alertID}.
func (s *Service) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAlert(r.Context(), chi.URLParam(r, "alertID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateOrder handles POST /api/v1/orders.
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	code, err := model.NormalizeCode(req.AssetCode)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	class, err := model.ParseClass(req.AssetClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Volume) == "" {
		writeError(w, "volume is required", http.StatusBadRequest)
		return
	}

	order := &model.LimitOrder{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		ChannelID:    req.ChannelID,
		AssetCode:    code,
		VolumeSpec:   req.Volume,
		PricePerUnit: req.Price,
		IsSale:       req.IsSale,
		IsCrypto:     class.IsCrypto(),
		IsLessThan:   req.IsLessThan,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateLimitOrder(r.Context(), order); err != nil {
		writeError(w, "failed to create order", http.StatusInternalServerError)
		return
	}

	s.logger.Info("limit order registered",
		"order", order.ID,
		"user", req.UserID,
		"asset", code,
		"threshold", req.Price.String(),
	)
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders handles GET /api/v1/orders?user=<id>.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListLimitOrders(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.LimitOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// DeleteOrder handles DELETE /api/v1/orders/{orderID}.
func (s *Service) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteLimitOrder(r.Context(), chi.URLParam(r, "orderID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps engine and collaborator errors onto HTTP statuses.
func (s *Service) writeDomainError(w http.ResponseWriter, err error) {
	var insufficientFunds *ledger.InsufficientFundsError
	var insufficientShares *ledger.InsufficientSharesError
	var storageErr *ledger.StorageError

	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidAssetCode),
		errors.Is(err, model.ErrReservedAsset),
		errors.Is(err, model.ErrInvalidClass):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &insufficientFunds), errors.As(err, &insufficientShares):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, quote.ErrUnavailable):
		writeError(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &storageErr):
		s.logger.Error("storage failure", "err", err)
		writeError(w, "storage failure", http.StatusInternalServerError)
	default:
		s.logger.Error("unhandled error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
