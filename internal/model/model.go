// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Quantity/price divisions are carried at 30 significant digits so that
	// long chains of small trades do not accumulate drift. Display rounding
	// is the command layer's job and never happens before persistence.
	if decimal.DivisionPrecision < 30 {
		decimal.DivisionPrecision = 30
	}
}

// User is a chat-platform account holding a paper portfolio. Users are
// created lazily on first activity and never deleted; reset clears their
// transactions, not the account.
type User struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name,omitempty" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Transaction is an immutable record of one buy or sell.
// Once created, these are never modified or deleted, with two exceptions:
// the synthetic cash row (asset code USDOLLAR) has its volume mutated in
// place to carry the running balance, and a reset purges all non-cash rows.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	AssetCode    string          `json:"asset_code" db:"asset_code"`
	Volume       decimal.Decimal `json:"volume" db:"volume"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	IsSale       bool            `json:"is_sale" db:"is_sale"`
	IsCrypto     bool            `json:"is_crypto" db:"is_crypto"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// Class returns the asset class of the transaction's asset.
func (t Transaction) Class() AssetClass {
	if t.IsCrypto {
		return ClassCrypto
	}
	return ClassStock
}

// Alert is a standing price-threshold notification. It fires at most once
// and is deleted on firing or on quote failure; it is never updated.
type Alert struct {
	ID           string          `json:"id" db:"id"`
	ChannelID    string          `json:"channel_id" db:"channel_id"`
	AssetCode    string          `json:"asset_code" db:"asset_code"`
	IsCrypto     bool            `json:"is_crypto" db:"is_crypto"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	IsLessThan   bool            `json:"is_less_than" db:"is_less_than"`
}

// LimitOrder is a standing instruction to settle a trade once a price
// threshold is crossed. VolumeSpec is resolved at trigger time: the literal
// "max", a "$"-prefixed notional, or a unit count. Like alerts, orders
// trigger at most once and are deleted after the attempt, successful or not.
type LimitOrder struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	ChannelID    string          `json:"channel_id" db:"channel_id"`
	AssetCode    string          `json:"asset_code" db:"asset_code"`
	VolumeSpec   string          `json:"volume_spec" db:"volume_spec"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	IsSale       bool            `json:"is_sale" db:"is_sale"`
	IsCrypto     bool            `json:"is_crypto" db:"is_crypto"`
	IsLessThan   bool            `json:"is_less_than" db:"is_less_than"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// AssetRef identifies one asset a user has transacted, with its class.
type AssetRef struct {
	Code     string `json:"code"`
	IsCrypto bool   `json:"is_crypto"`
}

// Position is the derived state of one asset holding: net units owned and
// the volume-weighted average price paid for them. Computed by replaying
// the transaction history, never stored.
type Position struct {
	AssetCode   string          `json:"asset_code"`
	HeldVolume  decimal.Decimal `json:"held_volume"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// Holding is one row of a portfolio snapshot: a position marked to market.
type Holding struct {
	AssetCode    string          `json:"asset_code"`
	AssetClass   AssetClass      `json:"asset_class"`
	HeldVolume   decimal.Decimal `json:"held_volume"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	CurrentValue decimal.Decimal `json:"current_value"`
}

// Snapshot aggregates all of a user's open holdings with a grand total.
type Snapshot struct {
	UserID     string          `json:"user_id"`
	Holdings   []Holding       `json:"holdings"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// LeaderboardEntry ranks one user by total portfolio value.
type LeaderboardEntry struct {
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name,omitempty"`
	TotalValue  decimal.Decimal `json:"total_value"`
}
