package book

import (
	"sync"

	"go.uber.org/zap"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
)

// Book is the canonical per-symbol L2 order book, per spec §4.B. A Book
// has a single writer (ApplyUpdate/ApplyTrusted are not safe to call
// concurrently); readers take Snapshot, which copies out under a brief
// read lock and never blocks the writer for the duration of their work.
type Book struct {
	Symbol num.Symbol

	mu       sync.RWMutex
	ts       num.Timestamp
	sequence uint64

	bids *sideBook
	asks *sideBook

	tickSize    num.Price
	lotSize     num.Qty
	crossPolicy CrossPolicy

	logger *zap.Logger
}

// Config configures a new Book.
type Config struct {
	Symbol       num.Symbol
	TickSize     num.Price
	LotSize      num.Qty
	CrossPolicy  CrossPolicy
	ROIWidthTicks int64 // half-width of the dense band around the market
	ROICenter    num.Price
}

// New constructs a Book with a Range-of-Interest band centered on
// cfg.ROICenter, per spec §4.B / §9 "ROI rationale".
func New(cfg Config, logger *zap.Logger) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	centerTick := priceToTicks(cfg.ROICenter, cfg.TickSize)
	lb := centerTick - cfg.ROIWidthTicks
	ub := centerTick + cfg.ROIWidthTicks
	return &Book{
		Symbol:      cfg.Symbol,
		bids:        newSideBook(true, cfg.TickSize, lb, ub),
		asks:        newSideBook(false, cfg.TickSize, lb, ub),
		tickSize:    cfg.TickSize,
		lotSize:     cfg.LotSize,
		crossPolicy: cfg.CrossPolicy,
		logger:      logger.With(zap.Uint32("symbol", uint32(cfg.Symbol))),
	}
}

// ApplyUpdate validates and applies u, per spec §4.B's numbered algorithm.
// On any error the book is left exactly as it was before the call.
func (b *Book) ApplyUpdate(u L2Update) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyLocked(u, true)
}

// ApplyTrusted applies u without validation; the caller asserts ordering
// and correctness (spec §4.B contract).
func (b *Book) ApplyTrusted(u L2Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.applyLocked(u, false)
}

func (b *Book) applyLocked(u L2Update, validate bool) error {
	side := b.sideBook(u.Side)

	if validate && u.Level == 0 {
		if best, ok := side.bestLevel(); ok && u.Ts.Before(best.Ts) {
			return trerr.Newf(trerr.ErrOutOfOrderUpdate,
				"update ts %d precedes best-side ts %d for symbol %d", u.Ts, best.Ts, b.Symbol)
		}
	}
	if validate && u.Level < 0 {
		return trerr.Newf(trerr.ErrInvalidLevel, "negative level %d", u.Level)
	}

	tick := priceToTicks(u.Price, b.tickSize)

	// Captured before the mutation so a CrossedBook rejection can put the
	// side back exactly as it was ("the prior state is preserved").
	var undo sideUndo
	if validate {
		undo = side.captureUndo(tick)
	}

	switch {
	case side.inROI(tick):
		side.applyROI(tick, u.Qty, u.Ts)
	case u.Level < FixedDepth:
		side.applyArray(u.Level, u.Price, tick, u.Qty, u.Ts)
	default:
		side.applySparse(tick, u.Qty, u.Ts)
	}

	if validate {
		if err := b.resolveCross(u.Side); err != nil {
			side.restore(undo)
			return err
		}
	} else {
		_ = b.resolveCross(u.Side)
	}

	b.ts = u.Ts
	b.sequence++
	return nil
}

// resolveCross checks for a crossed book and applies crossPolicy, per
// spec §4.B step 7. updated is the side the triggering update touched:
// under auto-resolve the newer level wins, so only the resting
// opposite side is cleared through the aggressing price — clearing
// both sides against the pre-clear BBO would remove the very level
// that just arrived.
func (b *Book) resolveCross(updated Side) error {
	bidBest, bidOK := b.bids.bestLevel()
	askBest, askOK := b.asks.bestLevel()
	if !bidOK || !askOK {
		return nil
	}
	if bidBest.Price.LessThan(askBest.Price) {
		return nil
	}

	switch b.crossPolicy {
	case CrossReject:
		return trerr.Newf(trerr.ErrCrossedBook, "crossed book: bid %s >= ask %s", bidBest.Price, askBest.Price)
	case CrossAutoResolve:
		if updated == SideBid {
			b.asks.clearThrough(priceToTicks(bidBest.Price, b.tickSize))
		} else {
			b.bids.clearThrough(priceToTicks(askBest.Price, b.tickSize))
		}
		return nil
	case CrossTrustNewest:
		return nil
	default:
		return nil
	}
}

func (b *Book) sideBook(s Side) *sideBook {
	if s == SideBid {
		return b.bids
	}
	return b.asks
}

// BBO returns the best bid and ask levels. ok is false for a side with
// no populated levels.
func (b *Book) BBO() (bid PriceLevel, bidOK bool, ask PriceLevel, askOK bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, bidOK = b.bids.bestLevel()
	ask, askOK = b.asks.bestLevel()
	return
}

// IsCrossed reports whether the current BBO is crossed.
func (b *Book) IsCrossed() bool {
	bid, bidOK, ask, askOK := b.BBO()
	return bidOK && askOK && bid.Price.GreaterOrEqual(ask.Price)
}

// Mid returns (bid+ask)/2, ok=false unless both sides are populated.
func (b *Book) Mid() (num.Price, bool) {
	bid, bidOK, ask, askOK := b.BBO()
	if !bidOK || !askOK {
		return num.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(num.FromFloat(2)), true
}

// Microprice returns the size-weighted mid, per spec §4.B "Derived outputs".
func (b *Book) Microprice() (num.Price, bool) {
	bid, bidOK, ask, askOK := b.BBO()
	if !bidOK || !askOK {
		return num.Zero, false
	}
	denom := bid.Qty.Add(ask.Qty)
	if denom == num.Zero {
		return num.Zero, false
	}
	numerator := bid.Price.Mul(ask.Qty).Add(ask.Price.Mul(bid.Qty))
	return numerator.Div(denom), true
}

// SpreadTicks returns ask_best - bid_best expressed in ticks.
func (b *Book) SpreadTicks() (int64, bool) {
	bid, bidOK, ask, askOK := b.BBO()
	if !bidOK || !askOK {
		return 0, false
	}
	return priceToTicks(ask.Price, b.tickSize) - priceToTicks(bid.Price, b.tickSize), true
}

// DepthImbalance returns (sum bid qty over n levels - sum ask qty over n
// levels) / (sum + sum), per spec §4.B "Derived outputs".
func (b *Book) DepthImbalance(n int) (float64, bool) {
	b.mu.RLock()
	bidLevels := b.bids.depthLevels(n)
	askLevels := b.asks.depthLevels(n)
	b.mu.RUnlock()

	var bidSum, askSum num.Qty
	for _, l := range bidLevels {
		bidSum = bidSum.Add(l.Qty)
	}
	for _, l := range askLevels {
		askSum = askSum.Add(l.Qty)
	}
	denom := bidSum.Add(askSum)
	if denom == num.Zero {
		return 0, false
	}
	return bidSum.Sub(askSum).ToFloat() / denom.ToFloat(), true
}

// Snapshot copies out the current BBO and top-N depth without holding
// the writer lock beyond the copy itself, per spec §5.
func (b *Book) Snapshot(depth int) BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid, _ := b.bids.bestLevel()
	ask, _ := b.asks.bestLevel()
	return BookSnapshot{
		Symbol:   b.Symbol,
		Sequence: b.sequence,
		Ts:       b.ts,
		BidBest:  bid,
		AskBest:  ask,
		Bids:     b.bids.depthLevels(depth),
		Asks:     b.asks.depthLevels(depth),
	}
}

// Sequence returns the monotone update counter (spec §8 invariant).
func (b *Book) Sequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}
