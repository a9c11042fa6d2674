package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/ledger"
	"github.com/stonksbot/trade-engine/internal/metrics"
	"github.com/stonksbot/trade-engine/internal/model"
	"github.com/stonksbot/trade-engine/internal/quote"
	"github.com/stonksbot/trade-engine/internal/store"
)

// DefaultInterval is the poll period between matcher ticks.
const DefaultInterval = time.Minute

// Matcher polls current prices against registered alerts and limit orders.
// Both are fire-once: a triggered or errored entry is deleted before the
// next tick, so no condition can fire twice. Limit-order settlement is
// attempted at most once; a failed settlement is reported and the order is
// still deleted, never retried.
type Matcher struct {
	store    store.Store
	quotes   quote.Source
	engine   *ledger.Engine
	notifier Notifier
	logger   *slog.Logger
	interval time.Duration
}

// NewMatcher creates a Matcher polling at the given interval (DefaultInterval
// if non-positive).
func NewMatcher(st store.Store, quotes quote.Source, engine *ledger.Engine, notifier Notifier, logger *slog.Logger, interval time.Duration) *Matcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Matcher{
		store:    st,
		quotes:   quotes,
		engine:   engine,
		notifier: notifier,
		logger:   logger.With("component", "watch"),
		interval: interval,
	}
}

// Run ticks until the context is cancelled.
func (m *Matcher) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// tickQuotes memoizes lookups within a single tick. A failed lookup is
// memoized too: one upstream outage produces one error per asset per tick,
// not one per watcher.
type tickQuotes struct {
	quotes quote.Source
	seen   map[model.AssetRef]*quote.Quote
	errs   map[model.AssetRef]error
}

func (t *tickQuotes) get(ctx context.Context, ref model.AssetRef) (*quote.Quote, error) {
	if q, ok := t.seen[ref]; ok {
		return q, nil
	}
	if err, ok := t.errs[ref]; ok {
		return nil, err
	}
	class := model.ClassStock
	if ref.IsCrypto {
		class = model.ClassCrypto
	}
	q, err := t.quotes.Lookup(ctx, ref.Code, class)
	if err != nil {
		t.errs[ref] = err
		return nil, err
	}
	t.seen[ref] = q
	return q, nil
}

// Tick evaluates every registered alert and limit order once.
func (m *Matcher) Tick(ctx context.Context) {
	tq := &tickQuotes{
		quotes: m.quotes,
		seen:   make(map[model.AssetRef]*quote.Quote),
		errs:   make(map[model.AssetRef]error),
	}
	m.tickAlerts(ctx, tq)
	m.tickOrders(ctx, tq)
}

func (m *Matcher) tickAlerts(ctx context.Context, tq *tickQuotes) {
	alerts, err := m.store.ListAlerts(ctx)
	if err != nil {
		m.logger.Error("listing alerts", "err", err)
		return
	}

	for _, a := range alerts {
		q, err := tq.get(ctx, model.AssetRef{Code: a.AssetCode, IsCrypto: a.IsCrypto})
		if err != nil {
			m.expireAlert(ctx, a, decimal.Zero, err.Error(), "error")
			continue
		}
		if !crossed(q.Price, a.PricePerUnit, a.IsLessThan) {
			continue
		}
		m.expireAlert(ctx, a, q.Price, "", "fired")
	}
}

func (m *Matcher) expireAlert(ctx context.Context, a model.Alert, price decimal.Decimal, errMsg, outcome string) {
	if err := m.store.DeleteAlert(ctx, a.ID); err != nil {
		m.logger.Error("deleting alert", "alert", a.ID, "err", err)
		return
	}
	metrics.WatchEvaluations.WithLabelValues(string(KindAlert), outcome).Inc()
	m.notifier.Notify(Event{
		Kind:       KindAlert,
		ChannelID:  a.ChannelID,
		AssetCode:  a.AssetCode,
		Price:      price,
		Threshold:  a.PricePerUnit,
		IsLessThan: a.IsLessThan,
		Error:      errMsg,
	})
}

func (m *Matcher) tickOrders(ctx context.Context, tq *tickQuotes) {
	orders, err := m.store.ListLimitOrders(ctx, "")
	if err != nil {
		m.logger.Error("listing limit orders", "err", err)
		return
	}

	for _, o := range orders {
		q, err := tq.get(ctx, model.AssetRef{Code: o.AssetCode, IsCrypto: o.IsCrypto})
		if err != nil {
			if m.deleteOrder(ctx, o) {
				m.reportOrder(o, decimal.Zero, nil, err.Error(), "error")
			}
			continue
		}
		if !crossed(q.Price, o.PricePerUnit, o.IsLessThan) {
			continue
		}

		// Delete before settling so the settlement can never run twice,
		// even if the delete on a later path were to fail.
		if !m.deleteOrder(ctx, o) {
			continue
		}
		class := model.ClassStock
		if o.IsCrypto {
			class = model.ClassCrypto
		}
		receipt, err := m.engine.SettleSpec(ctx, o.UserID, o.AssetCode, o.VolumeSpec, q.Price, o.IsSale, class)
		if err != nil {
			m.reportOrder(o, q.Price, nil, err.Error(), "error")
			continue
		}
		m.reportOrder(o, q.Price, receipt, "", "filled")
	}
}

func (m *Matcher) deleteOrder(ctx context.Context, o model.LimitOrder) bool {
	if err := m.store.DeleteLimitOrder(ctx, o.ID); err != nil {
		m.logger.Error("deleting limit order", "order", o.ID, "err", err)
		return false
	}
	return true
}

func (m *Matcher) reportOrder(o model.LimitOrder, price decimal.Decimal, receipt *ledger.Receipt, errMsg, outcome string) {
	metrics.WatchEvaluations.WithLabelValues(string(KindOrder), outcome).Inc()
	m.notifier.Notify(Event{
		Kind:       KindOrder,
		ChannelID:  o.ChannelID,
		UserID:     o.UserID,
		AssetCode:  o.AssetCode,
		Price:      price,
		Threshold:  o.PricePerUnit,
		IsLessThan: o.IsLessThan,
		Receipt:    receipt,
		Error:      errMsg,
	})
}

// crossed reports whether price satisfies the threshold condition. The
// comparison is strict in both directions: a price exactly on the threshold
// does not trigger.
func crossed(price, threshold decimal.Decimal, isLessThan bool) bool {
	if isLessThan {
		return price.LessThan(threshold)
	}
	return price.GreaterThan(threshold)
}
