// Package ledger implements the paper-trading core: settlement of buys and
// sells against a replayed transaction log, portfolio valuation, and account
// lifecycle (lazy creation, reset, liquidation).
//
// All quantity and price arithmetic uses shopspring/decimal — never float64
// for money.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/metrics"
	"github.com/stonksbot/trade-engine/internal/model"
	"github.com/stonksbot/trade-engine/internal/position"
	"github.com/stonksbot/trade-engine/internal/quote"
	"github.com/stonksbot/trade-engine/internal/store"
)

// HistoryLimit caps the recent-transaction listing.
const HistoryLimit = 10

// Engine executes settlements and valuations over a Store. It holds no
// balance or position state of its own: every operation re-reads the ledger,
// so a snapshot can never observe a half-applied settlement.
type Engine struct {
	store  store.Store
	quotes quote.Source
	locks  *userLocks
	logger *slog.Logger
}

// NewEngine creates an Engine wired with the given store and quote source.
func NewEngine(st store.Store, quotes quote.Source, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		quotes: quotes,
		locks:  newUserLocks(),
		logger: logger.With("component", "ledger"),
	}
}

// Receipt reports a committed settlement.
type Receipt struct {
	UserID       string           `json:"user_id"`
	AssetCode    string           `json:"asset_code"`
	AssetClass   model.AssetClass `json:"asset_class"`
	Volume       decimal.Decimal  `json:"volume"`
	PricePerUnit decimal.Decimal  `json:"price_per_unit"`
	Total        decimal.Decimal  `json:"total"`
	IsSale       bool             `json:"is_sale"`
	NewBalance   decimal.Decimal  `json:"new_balance"`

	// ProfitLoss is total proceeds minus cost basis at the pre-sale average
	// cost. Informational only — never persisted. Zero for buys.
	ProfitLoss decimal.Decimal `json:"profit_loss"`
}

// Settle validates and commits one buy or sell, adjusting the user's cash
// balance atomically with the ledger append. Unknown users are created with
// the seed balance first. Calls for the same user are serialized.
func (e *Engine) Settle(ctx context.Context, userID, assetCode string, volume, pricePerUnit decimal.Decimal, isSale bool, class model.AssetClass) (*Receipt, error) {
	if !volume.IsPositive() || !pricePerUnit.IsPositive() {
		return nil, ErrInvalidAmount
	}

	mu := e.locks.of(userID)
	mu.Lock()
	defer mu.Unlock()

	return e.settleLocked(ctx, userID, assetCode, volume, pricePerUnit, isSale, class)
}

// settleLocked is the body of Settle; the caller holds the user's lock.
func (e *Engine) settleLocked(ctx context.Context, userID, assetCode string, volume, pricePerUnit decimal.Decimal, isSale bool, class model.AssetClass) (*Receipt, error) {
	if _, err := e.store.EnsureUser(ctx, userID); err != nil {
		return nil, &StorageError{Err: err}
	}

	cash, err := e.replay(ctx, userID, model.CashAsset)
	if err != nil {
		return nil, &StorageError{Err: err}
	}

	total := pricePerUnit.Mul(volume)
	var newCash decimal.Decimal
	var profitLoss decimal.Decimal

	if isSale {
		pos, err := e.replay(ctx, userID, assetCode)
		if err != nil {
			return nil, &StorageError{Err: err}
		}
		if pos.HeldVolume.LessThan(volume) {
			metrics.SettlementRejections.WithLabelValues("insufficient_shares").Inc()
			return nil, &InsufficientSharesError{
				AssetCode: assetCode,
				Available: pos.HeldVolume,
				Requested: volume,
			}
		}
		newCash = cash.HeldVolume.Add(total)
		profitLoss = total.Sub(pos.AverageCost.Mul(volume))
	} else {
		if cash.HeldVolume.LessThan(total) {
			metrics.SettlementRejections.WithLabelValues("insufficient_funds").Inc()
			return nil, &InsufficientFundsError{
				Required:  total,
				Available: cash.HeldVolume,
			}
		}
		newCash = cash.HeldVolume.Sub(total)
	}

	tx := &model.Transaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		AssetCode:    assetCode,
		Volume:       volume,
		PricePerUnit: pricePerUnit,
		IsSale:       isSale,
		IsCrypto:     class.IsCrypto(),
		Timestamp:    time.Now().UTC(),
	}
	if err := e.store.ApplySettlement(ctx, tx, newCash); err != nil {
		return nil, &StorageError{Err: err}
	}

	side := "buy"
	if isSale {
		side = "sell"
	}
	metrics.SettlementsTotal.WithLabelValues(side).Inc()

	e.logger.Info("settlement committed",
		"user", userID,
		"asset", assetCode,
		"side", side,
		"volume", volume.String(),
		"price", pricePerUnit.String(),
		"new_balance", newCash.String(),
	)

	return &Receipt{
		UserID:       userID,
		AssetCode:    assetCode,
		AssetClass:   class,
		Volume:       volume,
		PricePerUnit: pricePerUnit,
		Total:        total,
		IsSale:       isSale,
		NewBalance:   newCash,
		ProfitLoss:   profitLoss,
	}, nil
}

// SettleSpec resolves a volume specification — the literal "max", a
// "$"-prefixed notional, or a plain unit count — against the user's current
// holdings/cash and settles the resulting volume. Resolution and settlement
// happen under one hold of the user's lock so the resolved "max" cannot go
// stale against a concurrent settlement.
func (e *Engine) SettleSpec(ctx context.Context, userID, assetCode, volumeSpec string, pricePerUnit decimal.Decimal, isSale bool, class model.AssetClass) (*Receipt, error) {
	if !pricePerUnit.IsPositive() {
		return nil, ErrInvalidAmount
	}

	mu := e.locks.of(userID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := e.store.EnsureUser(ctx, userID); err != nil {
		return nil, &StorageError{Err: err}
	}

	volume, err := e.resolveVolume(ctx, userID, assetCode, volumeSpec, pricePerUnit, isSale)
	if err != nil {
		return nil, err
	}
	return e.settleLocked(ctx, userID, assetCode, volume, pricePerUnit, isSale, class)
}

func (e *Engine) resolveVolume(ctx context.Context, userID, assetCode, spec string, pricePerUnit decimal.Decimal, isSale bool) (decimal.Decimal, error) {
	spec = strings.TrimSpace(spec)

	switch {
	case strings.EqualFold(spec, "max"):
		if isSale {
			pos, err := e.replay(ctx, userID, assetCode)
			if err != nil {
				return decimal.Decimal{}, &StorageError{Err: err}
			}
			return pos.HeldVolume, nil
		}
		cash, err := e.replay(ctx, userID, model.CashAsset)
		if err != nil {
			return decimal.Decimal{}, &StorageError{Err: err}
		}
		return cash.HeldVolume.Div(pricePerUnit), nil

	case strings.HasPrefix(spec, "$"):
		notional, err := decimal.NewFromString(strings.ReplaceAll(spec[1:], ",", ""))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, spec)
		}
		if !notional.IsPositive() {
			return decimal.Decimal{}, ErrInvalidAmount
		}
		return notional.Div(pricePerUnit), nil

	default:
		units, err := decimal.NewFromString(strings.ReplaceAll(spec, ",", ""))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, spec)
		}
		if !units.IsPositive() {
			return decimal.Decimal{}, ErrInvalidAmount
		}
		return units, nil
	}
}

// Snapshot values all of a user's open positions at live prices. Closed
// positions are dropped; the cash asset is always included at face value.
func (e *Engine) Snapshot(ctx context.Context, userID string) (*model.Snapshot, error) {
	if _, err := e.store.EnsureUser(ctx, userID); err != nil {
		return nil, &StorageError{Err: err}
	}

	refs, err := e.store.ListAssets(ctx, userID)
	if err != nil {
		return nil, &StorageError{Err: err}
	}

	snap := &model.Snapshot{UserID: userID, TotalValue: decimal.Zero}
	one := decimal.NewFromInt(1)

	for _, ref := range refs {
		pos, err := e.replay(ctx, userID, ref.Code)
		if err != nil {
			return nil, &StorageError{Err: err}
		}

		if ref.Code == model.CashAsset {
			snap.Holdings = append(snap.Holdings, model.Holding{
				AssetCode:    ref.Code,
				AssetClass:   model.ClassStock,
				HeldVolume:   pos.HeldVolume,
				AverageCost:  one,
				CurrentPrice: one,
				CurrentValue: pos.HeldVolume,
			})
			snap.TotalValue = snap.TotalValue.Add(pos.HeldVolume)
			continue
		}

		if !pos.HeldVolume.IsPositive() {
			continue
		}

		class := model.ClassStock
		if ref.IsCrypto {
			class = model.ClassCrypto
		}
		q, err := e.quotes.Lookup(ctx, ref.Code, class)
		if err != nil {
			return nil, err
		}

		value := q.Price.Mul(pos.HeldVolume)
		snap.Holdings = append(snap.Holdings, model.Holding{
			AssetCode:    ref.Code,
			AssetClass:   class,
			HeldVolume:   pos.HeldVolume,
			AverageCost:  pos.AverageCost,
			CurrentPrice: q.Price,
			CurrentValue: value,
		})
		snap.TotalValue = snap.TotalValue.Add(value)
	}

	return snap, nil
}

// Leaderboard ranks candidates by total portfolio value, descending, with
// ties kept in candidate order. An empty candidate list ranks every known
// user.
func (e *Engine) Leaderboard(ctx context.Context, candidateIDs []string) ([]model.LeaderboardEntry, error) {
	names := make(map[string]string)
	if len(candidateIDs) == 0 {
		users, err := e.store.ListUsers(ctx)
		if err != nil {
			return nil, &StorageError{Err: err}
		}
		for _, u := range users {
			candidateIDs = append(candidateIDs, u.ID)
			names[u.ID] = u.DisplayName
		}
	} else {
		for _, id := range candidateIDs {
			if name, err := e.store.GetDisplayName(ctx, id); err == nil {
				names[id] = name
			}
		}
	}

	entries := make([]model.LeaderboardEntry, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		snap, err := e.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.LeaderboardEntry{
			UserID:      id,
			DisplayName: names[id],
			TotalValue:  snap.TotalValue,
		})
	}

	// Insertion sort keeps the tie-break stable on candidate order.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].TotalValue.GreaterThan(entries[j-1].TotalValue); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	return entries, nil
}

// LiquidationResult reports the outcome of selling off one asset.
type LiquidationResult struct {
	AssetCode string   `json:"asset_code"`
	Receipt   *Receipt `json:"receipt,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Liquidate sells the user's full holding of every non-cash asset at the
// live price. Each asset is sold independently: a failed quote or
// settlement is recorded and the remaining assets still sell.
func (e *Engine) Liquidate(ctx context.Context, userID string) ([]LiquidationResult, error) {
	if _, err := e.store.EnsureUser(ctx, userID); err != nil {
		return nil, &StorageError{Err: err}
	}

	refs, err := e.store.ListAssets(ctx, userID)
	if err != nil {
		return nil, &StorageError{Err: err}
	}

	var results []LiquidationResult
	for _, ref := range refs {
		if ref.Code == model.CashAsset {
			continue
		}
		pos, err := e.replay(ctx, userID, ref.Code)
		if err != nil {
			return nil, &StorageError{Err: err}
		}
		if !pos.HeldVolume.IsPositive() {
			continue
		}

		class := model.ClassStock
		if ref.IsCrypto {
			class = model.ClassCrypto
		}
		q, err := e.quotes.Lookup(ctx, ref.Code, class)
		if err != nil {
			e.logger.Warn("liquidation skipping asset", "user", userID, "asset", ref.Code, "err", err)
			results = append(results, LiquidationResult{AssetCode: ref.Code, Error: err.Error()})
			continue
		}

		receipt, err := e.SettleSpec(ctx, userID, ref.Code, "max", q.Price, true, class)
		if err != nil {
			results = append(results, LiquidationResult{AssetCode: ref.Code, Error: err.Error()})
			continue
		}
		results = append(results, LiquidationResult{AssetCode: ref.Code, Receipt: receipt})
	}
	return results, nil
}

// Reset restores the seed cash balance and removes all non-cash holdings.
func (e *Engine) Reset(ctx context.Context, userID string) error {
	mu := e.locks.of(userID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := e.store.EnsureUser(ctx, userID); err != nil {
		return &StorageError{Err: err}
	}
	if err := e.store.ResetUser(ctx, userID); err != nil {
		return &StorageError{Err: err}
	}
	e.logger.Info("account reset", "user", userID)
	return nil
}

// History returns a user's most recent transactions, newest first.
func (e *Engine) History(ctx context.Context, userID string) ([]model.Transaction, error) {
	if _, err := e.store.EnsureUser(ctx, userID); err != nil {
		return nil, &StorageError{Err: err}
	}
	txs, err := e.store.RecentTransactions(ctx, userID, HistoryLimit)
	if err != nil {
		return nil, &StorageError{Err: err}
	}
	return txs, nil
}

// Balance returns the user's current cash balance.
func (e *Engine) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if _, err := e.store.EnsureUser(ctx, userID); err != nil {
		return decimal.Decimal{}, &StorageError{Err: err}
	}
	cash, err := e.replay(ctx, userID, model.CashAsset)
	if err != nil {
		return decimal.Decimal{}, &StorageError{Err: err}
	}
	return cash.HeldVolume, nil
}

// SetDisplayName records a display name, creating the user if needed.
func (e *Engine) SetDisplayName(ctx context.Context, userID, name string) error {
	if _, err := e.store.EnsureUser(ctx, userID); err != nil {
		return &StorageError{Err: err}
	}
	if err := e.store.SetDisplayName(ctx, userID, name); err != nil {
		return &StorageError{Err: err}
	}
	return nil
}

// replay derives one asset's position from its transaction history.
func (e *Engine) replay(ctx context.Context, userID, assetCode string) (model.Position, error) {
	history, err := e.store.ListTransactions(ctx, userID, assetCode)
	if err != nil {
		return model.Position{}, err
	}
	pos := position.Replay(history)
	pos.AssetCode = assetCode
	return pos, nil
}
