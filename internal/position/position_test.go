package position_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/model"
	"github.com/stonksbot/trade-engine/internal/position"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func tx(volume, price float64, isSale bool) model.Transaction {
	return model.Transaction{
		UserID:       "user1",
		AssetCode:    "AAPL",
		Volume:       d(volume),
		PricePerUnit: d(price),
		IsSale:       isSale,
		Timestamp:    time.Now().UTC(),
	}
}

func TestReplay_Empty(t *testing.T) {
	pos := position.Replay(nil)

	if !pos.HeldVolume.IsZero() {
		t.Errorf("expected zero volume, got %s", pos.HeldVolume)
	}
	if !pos.AverageCost.IsZero() {
		t.Errorf("expected zero average cost, got %s", pos.AverageCost)
	}
}

func TestReplay_SingleBuy(t *testing.T) {
	pos := position.Replay([]model.Transaction{tx(10, 100, false)})

	if !pos.HeldVolume.Equal(d(10)) {
		t.Errorf("expected volume 10, got %s", pos.HeldVolume)
	}
	if !pos.AverageCost.Equal(d(100)) {
		t.Errorf("expected average cost 100, got %s", pos.AverageCost)
	}
}

func TestReplay_BuysBlendAverage(t *testing.T) {
	// 10 @ 100 then 10 @ 200 → 20 held at 150.
	pos := position.Replay([]model.Transaction{
		tx(10, 100, false),
		tx(10, 200, false),
	})

	if !pos.HeldVolume.Equal(d(20)) {
		t.Errorf("expected volume 20, got %s", pos.HeldVolume)
	}
	if !pos.AverageCost.Equal(d(150)) {
		t.Errorf("expected average cost 150, got %s", pos.AverageCost)
	}
}

func TestReplay_SaleKeepsAverage(t *testing.T) {
	// Selling 15 of 20 leaves the average untouched.
	pos := position.Replay([]model.Transaction{
		tx(10, 100, false),
		tx(10, 200, false),
		tx(15, 500, true),
	})

	if !pos.HeldVolume.Equal(d(5)) {
		t.Errorf("expected volume 5, got %s", pos.HeldVolume)
	}
	if !pos.AverageCost.Equal(d(150)) {
		t.Errorf("expected average cost 150, got %s", pos.AverageCost)
	}
}

func TestReplay_CloseResetsAverage(t *testing.T) {
	pos := position.Replay([]model.Transaction{
		tx(10, 100, false),
		tx(10, 100, true),
	})

	if !pos.HeldVolume.IsZero() {
		t.Errorf("expected zero volume, got %s", pos.HeldVolume)
	}
	if !pos.AverageCost.IsZero() {
		t.Errorf("expected average cost reset to zero, got %s", pos.AverageCost)
	}
}

func TestReplay_ReopenAfterClose(t *testing.T) {
	// A position closed and reopened takes the new buy's price, not a blend
	// with the old history.
	pos := position.Replay([]model.Transaction{
		tx(10, 100, false),
		tx(10, 100, true),
		tx(5, 300, false),
	})

	if !pos.HeldVolume.Equal(d(5)) {
		t.Errorf("expected volume 5, got %s", pos.HeldVolume)
	}
	if !pos.AverageCost.Equal(d(300)) {
		t.Errorf("expected average cost 300, got %s", pos.AverageCost)
	}
}

func TestReplay_OversoldSurfaced(t *testing.T) {
	// A corrupt history that sells more than held replays to a negative
	// volume rather than clamping to zero.
	pos := position.Replay([]model.Transaction{
		tx(10, 100, false),
		tx(15, 100, true),
	})

	if !pos.HeldVolume.Equal(d(-5)) {
		t.Errorf("expected volume -5, got %s", pos.HeldVolume)
	}
}

func TestReplay_FractionalVolumes(t *testing.T) {
	pos := position.Replay([]model.Transaction{
		tx(0.5, 40000, false),
		tx(0.25, 60000, false),
	})

	if !pos.HeldVolume.Equal(d(0.75)) {
		t.Errorf("expected volume 0.75, got %s", pos.HeldVolume)
	}
	// (0.5*40000 + 0.25*60000) / 0.75 = 46666.66...
	want := d(35000).Div(d(0.75))
	if !pos.AverageCost.Equal(want) {
		t.Errorf("expected average cost %s, got %s", want, pos.AverageCost)
	}
}

func TestReplay_Deterministic(t *testing.T) {
	history := []model.Transaction{
		tx(10, 100, false),
		tx(3, 120, true),
		tx(7, 90, false),
		tx(2, 200, true),
	}

	first := position.Replay(history)
	for i := 0; i < 10; i++ {
		again := position.Replay(history)
		if !again.HeldVolume.Equal(first.HeldVolume) || !again.AverageCost.Equal(first.AverageCost) {
			t.Fatalf("replay not deterministic: run %d gave %s@%s, want %s@%s",
				i, again.HeldVolume, again.AverageCost, first.HeldVolume, first.AverageCost)
		}
	}
}
