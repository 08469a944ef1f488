// Package feed translates venue-specific market data messages into the
// canonical stream of book.L2Update values consumed by the order book
// engine and position tracker, per spec §4.C.
package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/book"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// ResyncRequired is emitted on the same bounded channel as ordinary
// updates when a gap is detected between the last-applied update id and
// an incremental's first-update id; the caller must refetch a snapshot.
type ResyncRequired struct {
	Symbol num.Symbol
	Reason string
}

// Sink receives the normalized output of one symbol's feed: book
// updates, trades for mark-to-market, and resync requests.
type Sink interface {
	OnL2Update(book.L2Update)
	OnTrade(ports.Trade)
	OnResyncRequired(ResyncRequired)
}

// symbolState tracks the snapshot/incremental resolution state machine
// for one symbol, per spec §4.C.
type symbolState struct {
	mu sync.Mutex

	haveSnapshot bool
	lastAppliedID uint64
	pending       []ports.Incremental // buffered while haveSnapshot == false
}

// Normalizer runs the per-symbol resolution state machine described in
// spec §4.C: snapshot-vs-incremental resolution, pre-book buffering,
// and gap detection.
type Normalizer struct {
	logger *zap.Logger

	mu     sync.Mutex
	states map[num.Symbol]*symbolState
}

// New constructs a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger, states: make(map[num.Symbol]*symbolState)}
}

func (n *Normalizer) stateFor(symbol num.Symbol) *symbolState {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.states[symbol]
	if !ok {
		st = &symbolState{}
		n.states[symbol] = st
	}
	return st
}

// Run subscribes to adapter for symbol and feeds normalized updates to
// sink until ctx is cancelled or the adapter's channels close.
func (n *Normalizer) Run(ctx context.Context, adapter ports.VenueFeedAdapter, symbol num.Symbol, sink Sink) error {
	snapshots, incrementals, trades, err := adapter.Subscribe(ctx, symbol)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			n.applySnapshot(symbol, snap, sink)
		case inc, ok := <-incrementals:
			if !ok {
				return nil
			}
			n.applyIncremental(symbol, inc, sink)
		case tr, ok := <-trades:
			if !ok {
				return nil
			}
			sink.OnTrade(tr)
		}
	}
}

// applySnapshot emits snap's levels on both sides as updates and
// resolves any incrementals buffered while the snapshot was in flight.
// Levels already in the book that the snapshot does not list are not
// removed.
func (n *Normalizer) applySnapshot(symbol num.Symbol, snap ports.Snapshot, sink Sink) {
	st := n.stateFor(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	for i, lvl := range snap.Bids {
		sink.OnL2Update(book.L2Update{Side: book.SideBid, Price: lvl.Price, Qty: lvl.Qty, Level: i, Ts: snap.Ts})
	}
	for i, lvl := range snap.Asks {
		sink.OnL2Update(book.L2Update{Side: book.SideAsk, Price: lvl.Price, Qty: lvl.Qty, Level: i, Ts: snap.Ts})
	}

	st.lastAppliedID = snap.LastUpdateID
	st.haveSnapshot = true

	pending := st.pending
	st.pending = nil
	for _, inc := range pending {
		if inc.FinalUpdateID <= snap.LastUpdateID {
			continue // predates the snapshot boundary
		}
		n.applyIncrementalLocked(symbol, st, inc, sink)
	}
}

// applyIncremental verifies contiguity with the last-applied id,
// requests a resync on a gap, and otherwise applies the delta.
func (n *Normalizer) applyIncremental(symbol num.Symbol, inc ports.Incremental, sink Sink) {
	st := n.stateFor(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.haveSnapshot {
		st.pending = append(st.pending, inc)
		return
	}
	n.applyIncrementalLocked(symbol, st, inc, sink)
}

func (n *Normalizer) applyIncrementalLocked(symbol num.Symbol, st *symbolState, inc ports.Incremental, sink Sink) {
	if inc.FinalUpdateID <= st.lastAppliedID {
		return // predates the last snapshot or increment already applied
	}
	if inc.FirstUpdateID != st.lastAppliedID+1 {
		n.logger.Warn("feed gap detected, requesting resync",
			zap.Uint32("symbol", uint32(symbol)),
			zap.Uint64("expected", st.lastAppliedID+1),
			zap.Uint64("got", inc.FirstUpdateID))
		st.haveSnapshot = false
		st.pending = nil
		sink.OnResyncRequired(ResyncRequired{Symbol: symbol, Reason: "update id gap"})
		return
	}

	// Incremental deltas carry no venue-assigned array slot, so they are
	// routed past FixedDepth: the book resolves them by price via its
	// ROI vector or sparse map rather than the level-indexed array.
	for _, lvl := range inc.BidsDelta {
		sink.OnL2Update(book.L2Update{Side: book.SideBid, Price: lvl.Price, Qty: lvl.Qty, Level: book.FixedDepth, Ts: inc.Ts})
	}
	for _, lvl := range inc.AsksDelta {
		sink.OnL2Update(book.L2Update{Side: book.SideAsk, Price: lvl.Price, Qty: lvl.Qty, Level: book.FixedDepth, Ts: inc.Ts})
	}
	st.lastAppliedID = inc.FinalUpdateID
}
