package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrivenq/tradecore/internal/book"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

type fakeAdapter struct {
	snapshots    chan ports.Snapshot
	incrementals chan ports.Incremental
	trades       chan ports.Trade
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		snapshots:    make(chan ports.Snapshot, 4),
		incrementals: make(chan ports.Incremental, 4),
		trades:       make(chan ports.Trade, 4),
	}
}

func (f *fakeAdapter) Subscribe(ctx context.Context, symbol num.Symbol) (<-chan ports.Snapshot, <-chan ports.Incremental, <-chan ports.Trade, error) {
	return f.snapshots, f.incrementals, f.trades, nil
}

type fakeSink struct {
	updates []book.L2Update
	trades  []ports.Trade
	resyncs []ResyncRequired
}

func (s *fakeSink) OnL2Update(u book.L2Update)        { s.updates = append(s.updates, u) }
func (s *fakeSink) OnTrade(tr ports.Trade)             { s.trades = append(s.trades, tr) }
func (s *fakeSink) OnResyncRequired(r ResyncRequired)  { s.resyncs = append(s.resyncs, r) }

func TestNormalizerBuffersIncrementalsUntilSnapshot(t *testing.T) {
	n := New(nil)
	adapter := newFakeAdapter()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter.incrementals <- ports.Incremental{Symbol: 1, FirstUpdateID: 101, FinalUpdateID: 101,
		BidsDelta: []ports.Level{{Price: num.FromFloat(99), Qty: num.FromFloat(1)}}}
	adapter.snapshots <- ports.Snapshot{Symbol: 1, LastUpdateID: 100,
		Bids: []ports.Level{{Price: num.FromFloat(100), Qty: num.FromFloat(5)}}}

	go n.Run(ctx, adapter, 1, sink)
	require.Eventually(t, func() bool { return len(sink.updates) == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, num.FromFloat(100), sink.updates[0].Price)
	assert.Equal(t, num.FromFloat(99), sink.updates[1].Price)
}

func TestNormalizerDropsIncrementalsPredatingSnapshot(t *testing.T) {
	n := New(nil)
	adapter := newFakeAdapter()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter.incrementals <- ports.Incremental{Symbol: 1, FirstUpdateID: 90, FinalUpdateID: 95}
	adapter.snapshots <- ports.Snapshot{Symbol: 1, LastUpdateID: 100}

	go n.Run(ctx, adapter, 1, sink)
	require.Eventually(t, func() bool { return len(sink.updates) == 0 && n.stateFor(1).haveSnapshot }, time.Second, time.Millisecond)
}

func TestNormalizerDetectsGapAndRequestsResync(t *testing.T) {
	n := New(nil)
	adapter := newFakeAdapter()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter.snapshots <- ports.Snapshot{Symbol: 1, LastUpdateID: 100}
	go n.Run(ctx, adapter, 1, sink)
	require.Eventually(t, func() bool { return n.stateFor(1).haveSnapshot }, time.Second, time.Millisecond)

	adapter.incrementals <- ports.Incremental{Symbol: 1, FirstUpdateID: 105, FinalUpdateID: 106}
	require.Eventually(t, func() bool { return len(sink.resyncs) == 1 }, time.Second, time.Millisecond)
	assert.False(t, n.stateFor(1).haveSnapshot, "a gap must force re-buffering until the next snapshot")
}

func TestNormalizerForwardsTradesUnmodified(t *testing.T) {
	n := New(nil)
	adapter := newFakeAdapter()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter.trades <- ports.Trade{Symbol: 1, Price: num.FromFloat(101), Qty: num.FromFloat(2), Aggressor: ports.AggressorBuy}
	go n.Run(ctx, adapter, 1, sink)
	require.Eventually(t, func() bool { return len(sink.trades) == 1 }, time.Second, time.Millisecond)
}
