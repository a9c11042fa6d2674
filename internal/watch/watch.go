// Package watch polls live quotes against registered price alerts and limit
// orders, firing each at most once.
package watch

import (
	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/ledger"
)

// EventKind distinguishes matcher notifications.
type EventKind string

const (
	KindAlert EventKind = "alert"
	KindOrder EventKind = "order"
)

// Event describes one fired alert or executed limit order. Exactly one of
// Receipt and Error is set for orders; alerts carry neither unless the quote
// lookup failed.
type Event struct {
	Kind       EventKind       `json:"kind"`
	ChannelID  string          `json:"channel_id"`
	UserID     string          `json:"user_id,omitempty"`
	AssetCode  string          `json:"asset_code"`
	Price      decimal.Decimal `json:"price"`
	Threshold  decimal.Decimal `json:"threshold"`
	IsLessThan bool            `json:"is_less_than"`
	Receipt    *ledger.Receipt `json:"receipt,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Notifier receives matcher events. Implementations must not block; slow
// consumers drop events, the matcher never waits on delivery.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }
