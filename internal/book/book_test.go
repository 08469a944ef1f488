package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
)

func newTestBook(policy CrossPolicy) *Book {
	return New(Config{
		Symbol:        1,
		TickSize:      num.FromFloat(0.01),
		LotSize:       num.FromFloat(1),
		CrossPolicy:   policy,
		ROIWidthTicks: 50,
		ROICenter:     num.FromFloat(100),
	}, nil)
}

func TestCrossAutoResolve(t *testing.T) {
	b := newTestBook(CrossAutoResolve)

	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(100.00), Qty: num.FromFloat(100), Level: 0, Ts: 1}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideAsk, Price: num.FromFloat(100.50), Qty: num.FromFloat(100), Level: 0, Ts: 2}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(101.00), Qty: num.FromFloat(50), Level: 0, Ts: 3}))

	assert.False(t, b.IsCrossed())
	bid, bidOK, _, askOK := b.BBO()
	require.True(t, bidOK)
	assert.Equal(t, num.FromFloat(101.00), bid.Price)
	assert.False(t, askOK, "ask at 100.50 must have been cleared by auto-resolve")
}

// The mirror of TestCrossAutoResolve: an aggressing ask crossing down
// through the bids clears the resting bids and survives itself.
func TestCrossAutoResolveAskAggressor(t *testing.T) {
	b := newTestBook(CrossAutoResolve)

	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(100.00), Qty: num.FromFloat(100), Level: 0, Ts: 1}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideAsk, Price: num.FromFloat(100.50), Qty: num.FromFloat(100), Level: 0, Ts: 2}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideAsk, Price: num.FromFloat(99.50), Qty: num.FromFloat(30), Level: 0, Ts: 3}))

	assert.False(t, b.IsCrossed())
	_, bidOK, ask, askOK := b.BBO()
	require.True(t, askOK)
	assert.Equal(t, num.FromFloat(99.50), ask.Price)
	assert.False(t, bidOK, "bid at 100.00 must have been cleared by auto-resolve")
}

func TestCrossRejectPreservesPriorState(t *testing.T) {
	b := newTestBook(CrossReject)

	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(100.00), Qty: num.FromFloat(10), Level: 0, Ts: 1}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideAsk, Price: num.FromFloat(100.50), Qty: num.FromFloat(10), Level: 0, Ts: 2}))
	seqBefore := b.Sequence()

	err := b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(101.00), Qty: num.FromFloat(10), Level: 0, Ts: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCrossedBook))
	assert.Equal(t, seqBefore, b.Sequence(), "a rejected update must not advance sequence")

	bid, _, _, _ := b.BBO()
	assert.Equal(t, num.FromFloat(100.00), bid.Price, "prior state preserved")
}

func TestOutOfOrderUpdateRejected(t *testing.T) {
	b := newTestBook(CrossAutoResolve)
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(100), Qty: num.FromFloat(10), Level: 0, Ts: 100}))

	err := b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(100), Qty: num.FromFloat(20), Level: 0, Ts: 50})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOutOfOrderUpdate))
}

func TestLevel32RoutesToSparse(t *testing.T) {
	b := newTestBook(CrossAutoResolve)

	// Far outside the ROI band and at the edge of the fixed array.
	far := num.FromFloat(50)
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: far, Qty: num.FromFloat(5), Level: 31, Ts: 1}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: far.Sub(num.FromFloat(0.01)), Qty: num.FromFloat(7), Level: 32, Ts: 2}))

	snap := b.Snapshot(64)
	var found31, found32 bool
	for _, lvl := range snap.Bids {
		if lvl.Price == far {
			found31 = true
		}
		if lvl.Price == far.Sub(num.FromFloat(0.01)) {
			found32 = true
		}
	}
	assert.True(t, found31)
	assert.True(t, found32, "level 32 update must still be queryable via sparse storage")
}

func TestROIBoundariesBothSucceed(t *testing.T) {
	b := newTestBook(CrossAutoResolve)
	// ROICenter=100, width=50 ticks @ tickSize 0.01 => band is [99.50, 100.50].
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(99.50), Qty: num.FromFloat(1), Level: 0, Ts: 1}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideAsk, Price: num.FromFloat(100.50), Qty: num.FromFloat(1), Level: 0, Ts: 2}))

	bid, bidOK, ask, askOK := b.BBO()
	require.True(t, bidOK)
	require.True(t, askOK)
	assert.Equal(t, num.FromFloat(99.50), bid.Price)
	assert.Equal(t, num.FromFloat(100.50), ask.Price)
}

func TestQtyZeroRemovesLevel(t *testing.T) {
	b := newTestBook(CrossAutoResolve)
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(100), Qty: num.FromFloat(10), Level: 0, Ts: 1}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(100), Qty: num.Zero, Level: 0, Ts: 2}))

	_, bidOK, _, _ := b.BBO()
	assert.False(t, bidOK)
}

func TestSequenceMonotoneAcrossAcceptedUpdates(t *testing.T) {
	b := newTestBook(CrossAutoResolve)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.ApplyUpdate(L2Update{
			Side: SideBid, Price: num.FromFloat(100), Qty: num.FromFloat(float64(i + 1)),
			Level: 0, Ts: num.Timestamp(i + 1),
		}))
	}
	assert.Equal(t, uint64(5), b.Sequence())
}

func TestMicropriceAndMid(t *testing.T) {
	b := newTestBook(CrossAutoResolve)
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideBid, Price: num.FromFloat(100), Qty: num.FromFloat(10), Level: 0, Ts: 1}))
	require.NoError(t, b.ApplyUpdate(L2Update{Side: SideAsk, Price: num.FromFloat(101), Qty: num.FromFloat(30), Level: 0, Ts: 2}))

	mid, ok := b.Mid()
	require.True(t, ok)
	assert.Equal(t, num.FromFloat(100.5), mid)

	mp, ok := b.Microprice()
	require.True(t, ok)
	// (100*30 + 101*10) / 40 = 100.25
	assert.Equal(t, num.FromFloat(100.25), mp)
}
