package position

import (
	"sync"
	"sync/atomic"

	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

type entry struct {
	mu  sync.Mutex
	pos Position
}

// Tracker owns every symbol's Position and a process-wide realized/
// unrealized aggregate updated via relaxed atomic adds on the hot path
// and corrected by Reconcile, per spec §4.D "Global aggregate".
type Tracker struct {
	mu       sync.RWMutex
	entries  map[num.Symbol]*entry
	realized int64 // atomic, raw Fixed units
	unreal   int64 // atomic, raw Fixed units
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[num.Symbol]*entry)}
}

func (t *Tracker) entryFor(symbol num.Symbol) *entry {
	t.mu.RLock()
	e, ok := t.entries[symbol]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[symbol]; ok {
		return e
	}
	e = &entry{pos: Position{Symbol: symbol}}
	t.entries[symbol] = e
	return e
}

// ApplyFill updates the position for symbol with a fill, per the
// flip/reduce/open rules of spec §4.D. The per-symbol mutex is the
// sole linearization point for this symbol's state.
func (t *Tracker) ApplyFill(symbol num.Symbol, side ports.Side, qty num.Qty, price num.Price, ts num.Timestamp) {
	e := t.entryFor(symbol)

	e.mu.Lock()
	realizedBefore := e.pos.Realized
	unrealBefore := e.pos.Unrealized()

	signedQty := qty
	if side == ports.SideSell {
		signedQty = qty.Neg()
	}
	applyFillLocked(&e.pos, signedQty, qty, price, ts)

	realizedDelta := e.pos.Realized.Sub(realizedBefore)
	unrealAfter := e.pos.Unrealized()
	unrealDelta := unrealAfter.Sub(unrealBefore)
	e.mu.Unlock()

	atomic.AddInt64(&t.realized, int64(realizedDelta))
	atomic.AddInt64(&t.unreal, int64(unrealDelta))
}

// applyFillLocked mutates p in place per the three cases in spec §4.D:
// same-sign (opening/adding), reducing, and flipping.
func applyFillLocked(p *Position, signedQty, absQty, price num.Price, ts num.Timestamp) {
	curQty := p.Qty
	newQty := curQty.Add(signedQty)

	sameSign := curQty == num.Zero || (curQty.Sign() == signedQty.Sign())

	switch {
	case sameSign:
		// Opening or adding to an existing position: blend the average.
		if newQty != num.Zero {
			weighted := curQty.Abs().Mul(p.AvgPrice).Add(signedQty.Abs().Mul(price))
			p.AvgPrice = weighted.Div(newQty.Abs())
		}
		p.Qty = newQty

	case signedQty.Abs().LessOrEqual(curQty.Abs()):
		// Reducing: realize PnL on the closed portion, average unchanged.
		delta := signedQty.Abs().Mul(price.Sub(p.AvgPrice))
		if curQty.Sign() < 0 {
			delta = delta.Neg()
		}
		p.Realized = p.Realized.Add(delta)
		p.Qty = newQty
		if newQty == num.Zero {
			p.AvgPrice = num.Zero
		}

	default:
		// Flipping: close the old side entirely, open the remainder at price.
		delta := curQty.Abs().Mul(price.Sub(p.AvgPrice))
		if curQty.Sign() < 0 {
			delta = delta.Neg()
		}
		p.Realized = p.Realized.Add(delta)
		p.Qty = newQty
		p.AvgPrice = price
	}

	p.LastUpdateTs = ts
	p.Fills++
	p.Turnover = p.Turnover.Add(absQty.Mul(price))
}

// Mark updates the last-seen bid/ask/mid for symbol, recomputing its
// unrealized PnL and folding the delta into the global aggregate.
func (t *Tracker) Mark(symbol num.Symbol, bid, ask num.Price, ts num.Timestamp) {
	e := t.entryFor(symbol)

	e.mu.Lock()
	unrealBefore := e.pos.Unrealized()
	e.pos.LastBid = bid
	e.pos.LastAsk = ask
	e.pos.LastMid = bid.Add(ask).Div(num.FromFloat(2))
	e.pos.LastMarkTs = ts
	unrealAfter := e.pos.Unrealized()
	delta := unrealAfter.Sub(unrealBefore)
	e.mu.Unlock()

	atomic.AddInt64(&t.unreal, int64(delta))
}

// MarkTrade records the last traded price for symbol, the side-less
// trade consumption of spec §4.C. It never moves PnL: unrealized is
// computed off the mid mark, not the tape.
func (t *Tracker) MarkTrade(symbol num.Symbol, price num.Price, ts num.Timestamp) {
	e := t.entryFor(symbol)
	e.mu.Lock()
	e.pos.LastTrade = price
	e.pos.LastMarkTs = ts
	e.mu.Unlock()
}

// Snapshot returns a copy of symbol's position with derived PnL, or
// ok=false if the symbol has never been touched.
func (t *Tracker) Snapshot(symbol num.Symbol) (Snapshot, bool) {
	t.mu.RLock()
	e, ok := t.entries[symbol]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return newSnapshot(e.pos), true
}

// GlobalPnL returns the process-wide aggregate maintained by relaxed
// atomic adds, per spec §4.D.
func (t *Tracker) GlobalPnL() GlobalPnL {
	realized := num.Fixed(atomic.LoadInt64(&t.realized))
	unreal := num.Fixed(atomic.LoadInt64(&t.unreal))
	return GlobalPnL{Realized: realized, Unrealized: unreal, Total: realized.Add(unreal)}
}

// Reconcile walks every position, recomputes the true aggregate from
// scratch, and corrects whatever drift the relaxed atomic adds have
// accumulated, per spec §4.D / §4.I. It returns the discrepancy found
// (pre-correction true minus pre-correction cached), which is zero in
// the steady state.
func (t *Tracker) Reconcile() GlobalPnL {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	var realized, unreal num.Amount
	for _, e := range entries {
		e.mu.Lock()
		realized = realized.Add(e.pos.Realized)
		unreal = unreal.Add(e.pos.Unrealized())
		e.mu.Unlock()
	}

	cachedRealized := num.Fixed(atomic.LoadInt64(&t.realized))
	cachedUnreal := num.Fixed(atomic.LoadInt64(&t.unreal))
	discrepancy := GlobalPnL{
		Realized:   realized.Sub(cachedRealized),
		Unrealized: unreal.Sub(cachedUnreal),
	}
	discrepancy.Total = discrepancy.Realized.Add(discrepancy.Unrealized)

	atomic.StoreInt64(&t.realized, int64(realized))
	atomic.StoreInt64(&t.unreal, int64(unreal))
	return discrepancy
}

// Symbols returns every symbol with a tracked position.
func (t *Tracker) Symbols() []num.Symbol {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]num.Symbol, 0, len(t.entries))
	for s := range t.entries {
		out = append(out, s)
	}
	return out
}
