// Package quote fetches live prices for stocks and cryptocurrencies from
// external quote APIs. The engine treats a failed lookup as a typed error,
// never as a zero price.
package quote

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/model"
)

// ErrUnavailable is returned when a price cannot be obtained for a symbol:
// unknown ticker, quote API outage, or an unparseable response. Lookups are
// fast failures — callers must not retry within the same operation.
var ErrUnavailable = errors.New("quote: price unavailable")

// Quote is one price observation for a symbol.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	PriorClose decimal.Decimal `json:"prior_close"`
}

// Source looks up live quotes by symbol and asset class.
type Source interface {
	Lookup(ctx context.Context, symbol string, class model.AssetClass) (*Quote, error)
}
