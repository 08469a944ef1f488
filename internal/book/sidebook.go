package book

import (
	"github.com/shrivenq/tradecore/pkg/num"
)

type sparseLevel struct {
	qty num.Qty
	ts  num.Timestamp
}

// sideBook holds one side (bid or ask) of a symbol's book across the
// three coexisting storage strategies described in spec §3.
type sideBook struct {
	isBid bool

	// Fixed-depth cache-friendly array, used for top-of-book.
	prices     [FixedDepth]num.Price
	qtys       [FixedDepth]num.Qty
	timestamps [FixedDepth]num.Timestamp
	depth      int

	// Range-of-interest dense vector, keyed by tick offset from roiLB.
	roiQtys       []num.Qty
	roiTimestamps []num.Timestamp
	roiLB         int64
	roiUB         int64

	// Sparse fallback for outlier levels, keyed by price-in-ticks.
	sparse map[int64]sparseLevel

	tickSize num.Price

	// bestTick is the best (highest bid / lowest ask) populated price in
	// ticks across all three strategies, or noBestTick if the side is empty.
	bestTick int64
}

const noBestTick = int64(1) << 62

func newSideBook(isBid bool, tickSize num.Price, roiLB, roiUB int64) *sideBook {
	width := int(roiUB-roiLB) + 1
	if width < 0 {
		width = 0
	}
	return &sideBook{
		isBid:         isBid,
		roiQtys:       make([]num.Qty, width),
		roiTimestamps: make([]num.Timestamp, width),
		roiLB:         roiLB,
		roiUB:         roiUB,
		sparse:        make(map[int64]sparseLevel),
		tickSize:      tickSize,
		bestTick:      noBestTick,
	}
}

func (sb *sideBook) inROI(tick int64) bool {
	return len(sb.roiQtys) > 0 && tick >= sb.roiLB && tick <= sb.roiUB
}

// better reports whether tick improves on (is a better price than) cur,
// given this side's direction (bids prefer higher ticks, asks lower).
func (sb *sideBook) better(tick, cur int64) bool {
	if cur == noBestTick {
		return true
	}
	if sb.isBid {
		return tick > cur
	}
	return tick < cur
}

// applyROI writes qty at tick into the dense ROI vector, per spec §4.B step 3.
func (sb *sideBook) applyROI(tick int64, qty num.Qty, ts num.Timestamp) {
	idx := tick - sb.roiLB
	sb.roiQtys[idx] = qty
	sb.roiTimestamps[idx] = ts

	if qty == num.Zero {
		if tick == sb.bestTick {
			sb.recomputeBestFromAll()
		}
		return
	}
	if sb.better(tick, sb.bestTick) {
		sb.bestTick = tick
	}
}

// applyArray writes into the fixed-depth array at index level, compacting
// on removal and extending depth on a new top-of-book entry, per spec
// §4.B step 4.
func (sb *sideBook) applyArray(level int, price num.Price, tick int64, qty num.Qty, ts num.Timestamp) {
	if qty == num.Zero {
		if level < sb.depth {
			for i := level; i < sb.depth-1; i++ {
				sb.prices[i] = sb.prices[i+1]
				sb.qtys[i] = sb.qtys[i+1]
				sb.timestamps[i] = sb.timestamps[i+1]
			}
			sb.depth--
		}
	} else {
		if level >= sb.depth {
			sb.depth = level + 1
		}
		sb.prices[level] = price
		sb.qtys[level] = qty
		sb.timestamps[level] = ts
	}
	sb.recomputeBestFromAll()
}

// applySparse writes or erases an outlier level, per spec §4.B step 5.
func (sb *sideBook) applySparse(tick int64, qty num.Qty, ts num.Timestamp) {
	if qty == num.Zero {
		delete(sb.sparse, tick)
		if tick == sb.bestTick {
			sb.recomputeBestFromAll()
		}
		return
	}
	sb.sparse[tick] = sparseLevel{qty: qty, ts: ts}
	if sb.better(tick, sb.bestTick) {
		sb.bestTick = tick
	}
}

// recomputeBestFromAll walks all three strategies to find the new best
// populated tick, per spec §4.B step 6 / invariant (iv).
func (sb *sideBook) recomputeBestFromAll() {
	best := noBestTick
	consider := func(tick int64, qty num.Qty) {
		if qty == num.Zero {
			return
		}
		if best == noBestTick || sb.better(tick, best) {
			best = tick
		}
	}

	for i := 0; i < sb.depth; i++ {
		tick := priceToTicks(sb.prices[i], sb.tickSize)
		consider(tick, sb.qtys[i])
	}
	for i, q := range sb.roiQtys {
		if q == num.Zero {
			continue
		}
		consider(sb.roiLB+int64(i), q)
	}
	for tick, lvl := range sb.sparse {
		consider(tick, lvl.qty)
	}
	sb.bestTick = best
}

// bestLevel returns the (price, qty, ts) for bestTick, looking it up in
// whichever strategy currently holds it.
func (sb *sideBook) bestLevel() (PriceLevel, bool) {
	if sb.bestTick == noBestTick {
		return PriceLevel{}, false
	}
	tick := sb.bestTick
	price := ticksToPrice(tick, sb.tickSize)

	if sb.inROI(tick) {
		idx := tick - sb.roiLB
		if q := sb.roiQtys[idx]; q != num.Zero {
			return PriceLevel{Price: price, Qty: q, Ts: sb.roiTimestamps[idx]}, true
		}
	}
	for i := 0; i < sb.depth; i++ {
		if priceToTicks(sb.prices[i], sb.tickSize) == tick && sb.qtys[i] != num.Zero {
			return PriceLevel{Price: sb.prices[i], Qty: sb.qtys[i], Ts: sb.timestamps[i]}, true
		}
	}
	if lvl, ok := sb.sparse[tick]; ok {
		return PriceLevel{Price: price, Qty: lvl.qty, Ts: lvl.ts}, true
	}
	return PriceLevel{}, false
}

// clearThrough removes every populated level at or beyond boundary tick
// (inclusive), used by CrossAutoResolve. For the bid side "beyond" means
// >= boundary; for the ask side it means <= boundary.
func (sb *sideBook) clearThrough(boundary int64) {
	conflicts := func(tick int64) bool {
		if sb.isBid {
			return tick >= boundary
		}
		return tick <= boundary
	}

	for i := 0; i < sb.depth; {
		if conflicts(priceToTicks(sb.prices[i], sb.tickSize)) {
			for j := i; j < sb.depth-1; j++ {
				sb.prices[j] = sb.prices[j+1]
				sb.qtys[j] = sb.qtys[j+1]
				sb.timestamps[j] = sb.timestamps[j+1]
			}
			sb.depth--
			continue
		}
		i++
	}
	for i, q := range sb.roiQtys {
		if q == num.Zero {
			continue
		}
		if conflicts(sb.roiLB + int64(i)) {
			sb.roiQtys[i] = num.Zero
		}
	}
	for tick := range sb.sparse {
		if conflicts(tick) {
			delete(sb.sparse, tick)
		}
	}
	sb.recomputeBestFromAll()
}

// sideUndo is everything one update can touch: the fixed array (value
// copy, compaction shifts many slots), the single ROI slot at the
// update's tick, the single sparse entry, and the cached best.
type sideUndo struct {
	prices     [FixedDepth]num.Price
	qtys       [FixedDepth]num.Qty
	timestamps [FixedDepth]num.Timestamp
	depth      int
	bestTick   int64

	tick      int64
	roiQty    num.Qty
	roiTs     num.Timestamp
	sparseLvl sparseLevel
	sparseOK  bool
}

// captureUndo snapshots the state an update at tick could mutate.
func (sb *sideBook) captureUndo(tick int64) sideUndo {
	u := sideUndo{
		prices:     sb.prices,
		qtys:       sb.qtys,
		timestamps: sb.timestamps,
		depth:      sb.depth,
		bestTick:   sb.bestTick,
		tick:       tick,
	}
	if sb.inROI(tick) {
		idx := tick - sb.roiLB
		u.roiQty = sb.roiQtys[idx]
		u.roiTs = sb.roiTimestamps[idx]
	}
	u.sparseLvl, u.sparseOK = sb.sparse[tick]
	return u
}

// restore reverses the mutation captureUndo bracketed.
func (sb *sideBook) restore(u sideUndo) {
	sb.prices = u.prices
	sb.qtys = u.qtys
	sb.timestamps = u.timestamps
	sb.depth = u.depth
	sb.bestTick = u.bestTick
	if sb.inROI(u.tick) {
		idx := u.tick - sb.roiLB
		sb.roiQtys[idx] = u.roiQty
		sb.roiTimestamps[idx] = u.roiTs
	}
	if u.sparseOK {
		sb.sparse[u.tick] = u.sparseLvl
	} else {
		delete(sb.sparse, u.tick)
	}
}

// depthLevels returns up to n populated levels, best-first, for snapshots
// and depth-imbalance calculations.
func (sb *sideBook) depthLevels(n int) []PriceLevel {
	type tl struct {
		tick int64
		lvl  PriceLevel
	}
	var all []tl
	for i := 0; i < sb.depth; i++ {
		if sb.qtys[i] == num.Zero {
			continue
		}
		tick := priceToTicks(sb.prices[i], sb.tickSize)
		all = append(all, tl{tick, PriceLevel{sb.prices[i], sb.qtys[i], sb.timestamps[i]}})
	}
	for i, q := range sb.roiQtys {
		if q == num.Zero {
			continue
		}
		tick := sb.roiLB + int64(i)
		all = append(all, tl{tick, PriceLevel{ticksToPrice(tick, sb.tickSize), q, sb.roiTimestamps[i]}})
	}
	for tick, lvl := range sb.sparse {
		all = append(all, tl{tick, PriceLevel{ticksToPrice(tick, sb.tickSize), lvl.qty, lvl.ts}})
	}

	// Insertion sort best-first; depth lists are small (tens of entries).
	for i := 1; i < len(all); i++ {
		j := i
		for j > 0 && sb.better(all[j].tick, all[j-1].tick) {
			all[j], all[j-1] = all[j-1], all[j]
			j--
		}
	}
	if n > len(all) {
		n = len(all)
	}
	out := make([]PriceLevel, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].lvl
	}
	return out
}

// priceToTicks and ticksToPrice convert between a raw fixed-point price
// and an integer tick count. Both price and tickSize are expressed in
// the same fixed-point raw units, so this is plain integer division/
// multiplication — not num.Fixed.Div/Mul, which assume both operands are
// independently scaled quantities (price × qty), not a price/tickSize ratio.
func priceToTicks(price, tickSize num.Price) int64 {
	if tickSize == num.Zero {
		return int64(price)
	}
	return int64(price) / int64(tickSize)
}

func ticksToPrice(ticks int64, tickSize num.Price) num.Price {
	return num.Fixed(ticks * int64(tickSize))
}
