package watch_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/ledger"
	"github.com/stonksbot/trade-engine/internal/model"
	"github.com/stonksbot/trade-engine/internal/quote"
	"github.com/stonksbot/trade-engine/internal/store"
	"github.com/stonksbot/trade-engine/internal/watch"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// stubQuotes serves fixed prices; symbols in errs fail with ErrUnavailable.
type stubQuotes struct {
	prices map[string]decimal.Decimal
	errs   map[string]bool
	calls  int
}

func (s *stubQuotes) Lookup(_ context.Context, symbol string, _ model.AssetClass) (*quote.Quote, error) {
	s.calls++
	if s.errs[symbol] {
		return nil, fmt.Errorf("%w: %s", quote.ErrUnavailable, symbol)
	}
	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s: no such symbol", quote.ErrUnavailable, symbol)
	}
	return &quote.Quote{Symbol: symbol, Price: price, PriorClose: price}, nil
}

type env struct {
	matcher *watch.Matcher
	store   *store.MemoryStore
	engine  *ledger.Engine
	quotes  *stubQuotes
	events  []watch.Event
}

func newEnv(t *testing.T, prices map[string]decimal.Decimal, errs map[string]bool) *env {
	t.Helper()
	e := &env{
		store:  store.NewMemoryStore(),
		quotes: &stubQuotes{prices: prices, errs: errs},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.engine = ledger.NewEngine(e.store, e.quotes, logger)
	notifier := watch.NotifierFunc(func(ev watch.Event) {
		e.events = append(e.events, ev)
	})
	e.matcher = watch.NewMatcher(e.store, e.quotes, e.engine, notifier, logger, time.Minute)
	return e
}

func (e *env) addAlert(t *testing.T, symbol string, threshold float64, isLessThan bool) {
	t.Helper()
	err := e.store.CreateAlert(context.Background(), &model.Alert{
		ID:           "alert-" + symbol,
		ChannelID:    "chan1",
		AssetCode:    symbol,
		PricePerUnit: d(threshold),
		IsLessThan:   isLessThan,
	})
	if err != nil {
		t.Fatalf("creating alert: %v", err)
	}
}

func (e *env) addOrder(t *testing.T, o model.LimitOrder) {
	t.Helper()
	o.CreatedAt = time.Now().UTC()
	if err := e.store.CreateLimitOrder(context.Background(), &o); err != nil {
		t.Fatalf("creating order: %v", err)
	}
}

func TestTick_AlertFiresBelowThreshold(t *testing.T) {
	e := newEnv(t, map[string]decimal.Decimal{"AAPL": d(95)}, nil)
	e.addAlert(t, "AAPL", 100, true)

	e.matcher.Tick(context.Background())

	if len(e.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(e.events))
	}
	ev := e.events[0]
	if ev.Kind != watch.KindAlert {
		t.Errorf("expected alert event, got %s", ev.Kind)
	}
	if !ev.Price.Equal(d(95)) {
		t.Errorf("expected price 95, got %s", ev.Price)
	}
	if ev.Error != "" {
		t.Errorf("unexpected error: %s", ev.Error)
	}

	alerts, _ := e.store.ListAlerts(context.Background())
	if len(alerts) != 0 {
		t.Errorf("fired alert should be deleted, %d remain", len(alerts))
	}
}

func TestTick_ThresholdComparisonIsStrict(t *testing.T) {
	// Price exactly at the threshold must not trigger, in either direction.
	e := newEnv(t, map[string]decimal.Decimal{"AAPL": d(100)}, nil)
	e.addAlert(t, "AAPL", 100, true)
	e.addAlert(t, "MSFT", 100, false)
	e.quotes.prices["MSFT"] = d(100)

	e.matcher.Tick(context.Background())

	if len(e.events) != 0 {
		t.Fatalf("expected no events at exact threshold, got %d", len(e.events))
	}
	alerts, _ := e.store.ListAlerts(context.Background())
	if len(alerts) != 2 {
		t.Errorf("alerts should remain registered, got %d", len(alerts))
	}
}

func TestTick_AlertDoesNotRefire(t *testing.T) {
	e := newEnv(t, map[string]decimal.Decimal{"AAPL": d(150)}, nil)
	e.addAlert(t, "AAPL", 100, false)

	e.matcher.Tick(context.Background())
	e.matcher.Tick(context.Background())

	if len(e.events) != 1 {
		t.Fatalf("expected exactly 1 event across two ticks, got %d", len(e.events))
	}
}

func TestTick_AlertQuoteFailureExpires(t *testing.T) {
	e := newEnv(t, nil, map[string]bool{"AAPL": true})
	e.addAlert(t, "AAPL", 100, true)

	e.matcher.Tick(context.Background())

	if len(e.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(e.events))
	}
	if e.events[0].Error == "" {
		t.Error("expected event to carry the quote error")
	}

	alerts, _ := e.store.ListAlerts(context.Background())
	if len(alerts) != 0 {
		t.Errorf("errored alert should be deleted, %d remain", len(alerts))
	}
}

func TestTick_QuoteMemoizedWithinTick(t *testing.T) {
	e := newEnv(t, map[string]decimal.Decimal{"AAPL": d(95)}, nil)
	e.addAlert(t, "AAPL", 100, true)
	err := e.store.CreateAlert(context.Background(), &model.Alert{
		ID:           "alert-AAPL-2",
		ChannelID:    "chan2",
		AssetCode:    "AAPL",
		PricePerUnit: d(98),
		IsLessThan:   true,
	})
	if err != nil {
		t.Fatalf("creating alert: %v", err)
	}

	e.matcher.Tick(context.Background())

	if e.quotes.calls != 1 {
		t.Errorf("expected 1 quote call for 2 watchers on the same asset, got %d", e.quotes.calls)
	}
	if len(e.events) != 2 {
		t.Errorf("expected both alerts to fire, got %d events", len(e.events))
	}
}

func TestTick_OrderExecutesWhenCrossed(t *testing.T) {
	e := newEnv(t, map[string]decimal.Decimal{"AAPL": d(90)}, nil)
	e.addOrder(t, model.LimitOrder{
		ID:           "order1",
		UserID:       "user1",
		ChannelID:    "chan1",
		AssetCode:    "AAPL",
		VolumeSpec:   "10",
		PricePerUnit: d(100),
		IsLessThan:   true, // buy the dip
	})

	e.matcher.Tick(context.Background())

	if len(e.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(e.events))
	}
	ev := e.events[0]
	if ev.Kind != watch.KindOrder {
		t.Fatalf("expected order event, got %s", ev.Kind)
	}
	if ev.Receipt == nil {
		t.Fatal("expected a settlement receipt")
	}
	// Filled at the live price, not the threshold.
	if !ev.Receipt.PricePerUnit.Equal(d(90)) {
		t.Errorf("expected fill at 90, got %s", ev.Receipt.PricePerUnit)
	}
	if !ev.Receipt.NewBalance.Equal(d(49100)) {
		t.Errorf("expected balance 49100, got %s", ev.Receipt.NewBalance)
	}

	orders, _ := e.store.ListLimitOrders(context.Background(), "")
	if len(orders) != 0 {
		t.Errorf("filled order should be deleted, %d remain", len(orders))
	}
}

func TestTick_OrderNotTriggeredStaysRegistered(t *testing.T) {
	e := newEnv(t, map[string]decimal.Decimal{"AAPL": d(110)}, nil)
	e.addOrder(t, model.LimitOrder{
		ID:           "order1",
		UserID:       "user1",
		AssetCode:    "AAPL",
		VolumeSpec:   "10",
		PricePerUnit: d(100),
		IsLessThan:   true,
	})

	e.matcher.Tick(context.Background())

	if len(e.events) != 0 {
		t.Fatalf("expected no events, got %d", len(e.events))
	}
	orders, _ := e.store.ListLimitOrders(context.Background(), "")
	if len(orders) != 1 {
		t.Errorf("untriggered order should remain, got %d", len(orders))
	}
}

func TestTick_FailedSettlementStillDeletesOrder(t *testing.T) {
	// Sale order for stock the user never bought: the settlement is
	// rejected, the failure is reported, and the order is not retried.
	e := newEnv(t, map[string]decimal.Decimal{"AAPL": d(150)}, nil)
	e.addOrder(t, model.LimitOrder{
		ID:           "order1",
		UserID:       "user1",
		AssetCode:    "AAPL",
		VolumeSpec:   "10",
		PricePerUnit: d(100),
		IsSale:       true,
		IsLessThan:   false, // take profit above 100
	})

	e.matcher.Tick(context.Background())

	if len(e.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(e.events))
	}
	if e.events[0].Error == "" {
		t.Error("expected event to carry the settlement error")
	}
	if e.events[0].Receipt != nil {
		t.Error("failed settlement must not produce a receipt")
	}

	orders, _ := e.store.ListLimitOrders(context.Background(), "")
	if len(orders) != 0 {
		t.Errorf("errored order should be deleted, %d remain", len(orders))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	e := newEnv(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.matcher.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("matcher did not stop on cancel")
	}
}
