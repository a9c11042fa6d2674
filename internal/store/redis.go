package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the replay-heavy reads: per-asset transaction history and the
// distinct-asset list. Writes go to the primary store and invalidate the
// affected user's keys; if an invalidation fails it is logged and the stale
// entries age out within the cache TTL.
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

func (s *CachedStore) ApplySettlement(ctx context.Context, tx *model.Transaction, newCash decimal.Decimal) error {
	if err := s.primary.ApplySettlement(ctx, tx, newCash); err != nil {
		return err
	}
	// The settlement touches the traded asset, the cash row, and possibly
	// the asset list. Drop the affected keys; next read re-populates.
	s.invalidate(ctx,
		txsKey(tx.UserID, tx.AssetCode),
		txsKey(tx.UserID, model.CashAsset),
		txsKey(tx.UserID, ""),
		assetsKey(tx.UserID))
	return nil
}

func (s *CachedStore) ResetUser(ctx context.Context, userID string) error {
	// Collect the keys to drop before the purge removes the asset list.
	refs, err := s.primary.ListAssets(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.primary.ResetUser(ctx, userID); err != nil {
		return err
	}
	keys := []string{assetsKey(userID), txsKey(userID, "")}
	for _, r := range refs {
		keys = append(keys, txsKey(userID, r.Code))
	}
	s.invalidate(ctx, keys...)
	return nil
}

func (s *CachedStore) EnsureUser(ctx context.Context, userID string) (bool, error) {
	created, err := s.primary.EnsureUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if created {
		s.invalidate(ctx, txsKey(userID, model.CashAsset), txsKey(userID, ""), assetsKey(userID))
	}
	return created, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListTransactions(ctx context.Context, userID, assetCode string) ([]model.Transaction, error) {
	key := txsKey(userID, assetCode)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var txs []model.Transaction
		if json.Unmarshal(data, &txs) == nil {
			return txs, nil
		}
	}

	txs, err := s.primary.ListTransactions(ctx, userID, assetCode)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(txs); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return txs, nil
}

func (s *CachedStore) ListAssets(ctx context.Context, userID string) ([]model.AssetRef, error) {
	key := assetsKey(userID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var refs []model.AssetRef
		if json.Unmarshal(data, &refs) == nil {
			return refs, nil
		}
	}

	refs, err := s.primary.ListAssets(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(refs); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return refs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.primary.ListUsers(ctx)
}

func (s *CachedStore) SetDisplayName(ctx context.Context, userID, name string) error {
	return s.primary.SetDisplayName(ctx, userID, name)
}

func (s *CachedStore) GetDisplayName(ctx context.Context, userID string) (string, error) {
	return s.primary.GetDisplayName(ctx, userID)
}

func (s *CachedStore) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	return s.primary.RecentTransactions(ctx, userID, limit)
}

func (s *CachedStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	return s.primary.CreateAlert(ctx, a)
}

func (s *CachedStore) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.primary.ListAlerts(ctx)
}

func (s *CachedStore) DeleteAlert(ctx context.Context, id string) error {
	return s.primary.DeleteAlert(ctx, id)
}

func (s *CachedStore) CreateLimitOrder(ctx context.Context, o *model.LimitOrder) error {
	return s.primary.CreateLimitOrder(ctx, o)
}

func (s *CachedStore) ListLimitOrders(ctx context.Context, userID string) ([]model.LimitOrder, error) {
	return s.primary.ListLimitOrders(ctx, userID)
}

func (s *CachedStore) DeleteLimitOrder(ctx context.Context, id string) error {
	return s.primary.DeleteLimitOrder(ctx, id)
}

// --- Cache helpers ---

// invalidate drops cache keys after a primary write. A failed Del means the
// stale entries live on until TTL expires, so it is logged, not swallowed.
func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

func txsKey(userID, assetCode string) string {
	return fmt.Sprintf("txs:%s:%s", userID, assetCode)
}

func assetsKey(userID string) string { return fmt.Sprintf("assets:%s", userID) }
