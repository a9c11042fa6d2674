package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices and maps. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	users  []model.User
	ledger []model.Transaction
	alerts []model.Alert
	orders []model.LimitOrder
	seq    int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) userIndex(userID string) int {
	for i := range s.users {
		if s.users[i].ID == userID {
			return i
		}
	}
	return -1
}

// cashIndex finds the user's synthetic cash row.
func (s *MemoryStore) cashIndex(userID string) int {
	for i := range s.ledger {
		if s.ledger[i].UserID == userID && s.ledger[i].AssetCode == model.CashAsset {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) nextID() string {
	s.seq++
	return fmt.Sprintf("%d", s.seq)
}

func (s *MemoryStore) EnsureUser(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userIndex(userID) >= 0 {
		return false, nil
	}

	now := time.Now().UTC()
	s.users = append(s.users, model.User{ID: userID, CreatedAt: now})
	s.ledger = append(s.ledger, model.Transaction{
		ID:           s.nextID(),
		UserID:       userID,
		AssetCode:    model.CashAsset,
		Volume:       model.SeedBalance,
		PricePerUnit: decimal.NewFromInt(1),
		Timestamp:    now,
	})
	return true, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, len(s.users))
	copy(users, s.users)
	return users, nil
}

func (s *MemoryStore) SetDisplayName(_ context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.userIndex(userID)
	if i < 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	s.users[i].DisplayName = name
	return nil
}

func (s *MemoryStore) GetDisplayName(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.userIndex(userID)
	if i < 0 {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return s.users[i].DisplayName, nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, tx *model.Transaction, newCash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ci := s.cashIndex(tx.UserID)
	if ci < 0 {
		return fmt.Errorf("cash row for user %s: %w", tx.UserID, ErrNotFound)
	}

	// Both effects happen under one lock: append plus balance update.
	entry := *tx
	if entry.ID == "" {
		entry.ID = s.nextID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.ledger = append(s.ledger, entry)
	s.ledger[ci].Volume = newCash
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID, assetCode string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.ledger {
		if t.UserID != userID {
			continue
		}
		if assetCode != "" && t.AssetCode != assetCode {
			continue
		}
		result = append(result, t)
	}
	// The ledger slice is append-ordered; a stable sort on timestamp
	// preserves insertion order for ties.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	all, err := s.ListTransactions(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	// Reverse to newest-first, then cut.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) ListAssets(_ context.Context, userID string) ([]model.AssetRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var refs []model.AssetRef
	for _, t := range s.ledger {
		if t.UserID != userID || seen[t.AssetCode] {
			continue
		}
		seen[t.AssetCode] = true
		refs = append(refs, model.AssetRef{Code: t.AssetCode, IsCrypto: t.IsCrypto})
	}
	return refs, nil
}

func (s *MemoryStore) ResetUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userIndex(userID) < 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	kept := s.ledger[:0]
	for _, t := range s.ledger {
		if t.UserID == userID && t.AssetCode != model.CashAsset {
			continue
		}
		kept = append(kept, t)
	}
	s.ledger = kept

	ci := s.cashIndex(userID)
	if ci < 0 {
		return fmt.Errorf("cash row for user %s: %w", userID, ErrNotFound)
	}
	s.ledger[ci].Volume = model.SeedBalance
	return nil
}

func (s *MemoryStore) CreateAlert(_ context.Context, a *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *a
	if entry.ID == "" {
		entry.ID = s.nextID()
		a.ID = entry.ID
	}
	s.alerts = append(s.alerts, entry)
	return nil
}

func (s *MemoryStore) ListAlerts(_ context.Context) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]model.Alert, len(s.alerts))
	copy(alerts, s.alerts)
	return alerts, nil
}

func (s *MemoryStore) DeleteAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("alert %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) CreateLimitOrder(_ context.Context, o *model.LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *o
	if entry.ID == "" {
		entry.ID = s.nextID()
		o.ID = entry.ID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.orders = append(s.orders, entry)
	return nil
}

func (s *MemoryStore) ListLimitOrders(_ context.Context, userID string) ([]model.LimitOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.LimitOrder
	for _, o := range s.orders {
		if userID != "" && o.UserID != userID {
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *MemoryStore) DeleteLimitOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.orders {
		if s.orders[i].ID == id {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("limit order %s: %w", id, ErrNotFound)
}
