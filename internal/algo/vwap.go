package algo

import "github.com/shrivenq/tradecore/pkg/num"

// nextVWAP implements spec §4.F "VWAP": a child sized at
// min(remaining, max(min_slice, min(max_slice, market_volume *
// participation_rate))), where participation_rate is in basis points.
// Never emits when remaining is zero or the observation falls after
// the algorithm's window end.
func (e *Engine) nextVWAP(ctx Context) (ChildOrderSpec, bool) {
	if !ctx.Now.Before(e.Params.End) {
		return ChildOrderSpec{}, false
	}
	if e.Remaining().IsZero() {
		return ChildOrderSpec{}, false
	}

	// Participation rate is basis points of the raw quantity, not a
	// fixed-point multiplicand, so this divides the raw scaled value
	// directly rather than going through Mul/Div (which assume both
	// operands are pre-scaled by num.Scale).
	participation := num.Fixed(int64(ctx.MarketVolume) * e.Params.MaxParticipationBP / 10_000)
	qty := e.clampSlice(participation)
	if qty.IsZero() {
		return ChildOrderSpec{}, false
	}
	return e.buildSpec(qty), true
}
