// Package position derives asset holdings from transaction history.
//
// A position is never stored: it is recomputed on every call by folding
// over the asset's full transaction log in timestamp order. Replay is
// deterministic — the same history always yields the same result.
package position

import (
	"github.com/shopspring/decimal"

	"github.com/stonksbot/trade-engine/internal/model"
)

// Replay folds a single asset's transaction history, ordered by timestamp
// ascending (ties in insertion order), into net held volume and
// volume-weighted average cost.
//
// Buys blend the lot price into the running average over the combined
// volume; the blend is only computed when the resulting volume is positive,
// which both guards the division when crossing from zero holdings and
// matches how a reopened position starts a fresh average. Sales reduce
// volume and leave the average untouched, except that fully closing a
// position (volume exactly zero) drops its cost basis to zero.
//
// Histories where sales exceed cumulative buys are a data invariant
// violation upstream; the fold does not clamp and simply reports the
// negative volume.
func Replay(history []model.Transaction) model.Position {
	pos := model.Position{
		HeldVolume:  decimal.Zero,
		AverageCost: decimal.Zero,
	}
	if len(history) > 0 {
		pos.AssetCode = history[0].AssetCode
	}

	for _, t := range history {
		if t.IsSale {
			pos.HeldVolume = pos.HeldVolume.Sub(t.Volume)
			if pos.HeldVolume.IsZero() {
				pos.AverageCost = decimal.Zero
			}
			continue
		}

		combined := pos.HeldVolume.Add(t.Volume)
		if combined.IsPositive() {
			held := pos.AverageCost.Mul(pos.HeldVolume)
			lot := t.PricePerUnit.Mul(t.Volume)
			pos.AverageCost = held.Add(lot).Div(combined)
		}
		pos.HeldVolume = combined
	}

	return pos
}
