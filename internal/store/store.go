// Package store defines the persistence interface for the trade engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache for the replay-heavy reads.
//
// The transaction log is append-only. The one mutable cell is the synthetic
// cash row per user, whose volume carries the running USD balance.
type Store interface {
	// --- Users ---

	// EnsureUser creates the user and its seed cash transaction if the user
	// does not exist yet. Idempotent; reports whether a new user was created.
	EnsureUser(ctx context.Context, userID string) (created bool, err error)

	// ListUsers returns all users in creation order.
	ListUsers(ctx context.Context) ([]model.User, error)

	// SetDisplayName updates a user's display name.
	SetDisplayName(ctx context.Context, userID, name string) error

	// GetDisplayName returns a user's display name ("" if unset).
	GetDisplayName(ctx context.Context, userID string) (string, error)

	// --- Ledger ---

	// ApplySettlement atomically appends the asset transaction and sets the
	// user's cash row to newCash. Either both persist or neither does.
	ApplySettlement(ctx context.Context, tx *model.Transaction, newCash decimal.Decimal) error

	// ListTransactions returns a user's transactions for one asset code
	// (or all assets when assetCode is empty), ordered by timestamp
	// ascending with ties broken by insertion order.
	ListTransactions(ctx context.Context, userID, assetCode string) ([]model.Transaction, error)

	// RecentTransactions returns up to limit transactions, newest first.
	RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// ListAssets returns the distinct asset codes the user has ever
	// transacted, including the cash asset.
	ListAssets(ctx context.Context, userID string) ([]model.AssetRef, error)

	// ResetUser sets the cash row back to the seed balance and deletes all
	// non-cash transactions, as one atomic operation.
	ResetUser(ctx context.Context, userID string) error

	// --- Alerts ---

	CreateAlert(ctx context.Context, a *model.Alert) error
	ListAlerts(ctx context.Context) ([]model.Alert, error)
	DeleteAlert(ctx context.Context, id string) error

	// --- Limit orders ---

	CreateLimitOrder(ctx context.Context, o *model.LimitOrder) error

	// ListLimitOrders returns a user's standing orders, or every user's
	// when userID is empty (the matcher's view).
	ListLimitOrders(ctx context.Context, userID string) ([]model.LimitOrder, error)

	DeleteLimitOrder(ctx context.Context, id string) error
}
