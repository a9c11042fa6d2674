package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All volumes and prices are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ensure user %s: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO users (id, created_at) VALUES ($1, NOW())
		 ON CONFLICT (id) DO NOTHING`, userID)
	if err != nil {
		return false, fmt.Errorf("ensure user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	// New user: seed the synthetic cash row in the same transaction.
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, asset_code, volume, price_per_unit, is_sale, is_crypto, ts)
		 VALUES (gen_random_uuid()::TEXT, $1, $2, $3::NUMERIC, 1, FALSE, FALSE, NOW())`,
		userID, model.CashAsset, model.SeedBalance.String())
	if err != nil {
		return false, fmt.Errorf("seed balance for user %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return true, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(display_name, ''), created_at
		 FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) SetDisplayName(ctx context.Context, userID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET display_name = $2 WHERE id = $1`, userID, name)
	if err != nil {
		return fmt.Errorf("set display name for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetDisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(display_name, '') FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get display name for %s: %w", userID, err)
	}
	return name, nil
}

// ApplySettlement appends the asset transaction and updates the cash row as
// one database transaction. A failure of either statement rolls back both.
func (s *PostgresStore) ApplySettlement(ctx context.Context, t *model.Transaction, newCash decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("settle for user %s: %w", t.UserID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, asset_code, volume, price_per_unit, is_sale, is_crypto, ts)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		t.ID, t.UserID, t.AssetCode,
		t.Volume.String(), t.PricePerUnit.String(),
		t.IsSale, t.IsCrypto, t.Timestamp)
	if err != nil {
		return fmt.Errorf("append transaction for user %s: %w", t.UserID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET volume = $3::NUMERIC
		 WHERE user_id = $1 AND asset_code = $2`,
		t.UserID, model.CashAsset, newCash.String())
	if err != nil {
		return fmt.Errorf("update cash balance for user %s: %w", t.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cash row for user %s: %w", t.UserID, ErrNotFound)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID, assetCode string) ([]model.Transaction, error) {
	query := `SELECT id, user_id, asset_code, volume::TEXT, price_per_unit::TEXT, is_sale, is_crypto, ts
	          FROM transactions WHERE user_id = $1`
	args := []any{userID}
	if assetCode != "" {
		query += ` AND asset_code = $2`
		args = append(args, assetCode)
	}
	query += ` ORDER BY ts, seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, asset_code, volume::TEXT, price_per_unit::TEXT, is_sale, is_crypto, ts
		 FROM transactions WHERE user_id = $1
		 ORDER BY ts DESC, seq DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) ListAssets(ctx context.Context, userID string) ([]model.AssetRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_code, bool_or(is_crypto)
		 FROM transactions WHERE user_id = $1
		 GROUP BY asset_code ORDER BY MIN(seq)`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []model.AssetRef
	for rows.Next() {
		var r model.AssetRef
		if err := rows.Scan(&r.Code, &r.IsCrypto); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// ResetUser restores the seed balance and purges all non-cash history in
// one database transaction.
func (s *PostgresStore) ResetUser(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset user %s: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET volume = $3::NUMERIC
		 WHERE user_id = $1 AND asset_code = $2`,
		userID, model.CashAsset, model.SeedBalance.String())
	if err != nil {
		return fmt.Errorf("reset balance for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cash row for user %s: %w", userID, ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM transactions WHERE user_id = $1 AND asset_code <> $2`,
		userID, model.CashAsset)
	if err != nil {
		return fmt.Errorf("purge transactions for user %s: %w", userID, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, channel_id, asset_code, is_crypto, price_per_unit, is_less_than)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		a.ID, a.ChannelID, a.AssetCode, a.IsCrypto,
		a.PricePerUnit.String(), a.IsLessThan)
	return err
}

func (s *PostgresStore) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, channel_id, asset_code, is_crypto, price_per_unit::TEXT, is_less_than
		 FROM alerts ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		var price string
		if err := rows.Scan(&a.ID, &a.ChannelID, &a.AssetCode, &a.IsCrypto, &price, &a.IsLessThan); err != nil {
			return nil, err
		}
		a.PricePerUnit, _ = decimal.NewFromString(price)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateLimitOrder(ctx context.Context, o *model.LimitOrder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO limit_orders (id, user_id, channel_id, asset_code, volume_spec, price_per_unit, is_sale, is_crypto, is_less_than, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10)`,
		o.ID, o.UserID, o.ChannelID, o.AssetCode, o.VolumeSpec,
		o.PricePerUnit.String(), o.IsSale, o.IsCrypto, o.IsLessThan, o.CreatedAt)
	return err
}

func (s *PostgresStore) ListLimitOrders(ctx context.Context, userID string) ([]model.LimitOrder, error) {
	query := `SELECT id, user_id, channel_id, asset_code, volume_spec, price_per_unit::TEXT, is_sale, is_crypto, is_less_than, created_at
	          FROM limit_orders`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.LimitOrder
	for rows.Next() {
		var o model.LimitOrder
		var price string
		if err := rows.Scan(&o.ID, &o.UserID, &o.ChannelID, &o.AssetCode, &o.VolumeSpec,
			&price, &o.IsSale, &o.IsCrypto, &o.IsLessThan, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.PricePerUnit, _ = decimal.NewFromString(price)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) DeleteLimitOrder(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM limit_orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete limit order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("limit order %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanTransactions reads pgx rows into Transaction slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var volume, price string

		if err := rows.Scan(&t.ID, &t.UserID, &t.AssetCode,
			&volume, &price, &t.IsSale, &t.IsCrypto, &t.Timestamp); err != nil {
			return nil, err
		}

		t.Volume, _ = decimal.NewFromString(volume)
		t.PricePerUnit, _ = decimal.NewFromString(price)

		txs = append(txs, t)
	}
	return txs, rows.Err()
}
