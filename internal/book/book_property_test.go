package book

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shrivenq/tradecore/pkg/num"
)

// Random mixed update sequences must preserve the §8 book invariants
// after every step: monotone sequence across accepted updates, no
// zero-qty level visible anywhere, and bid < ask under the reject policy.
func TestRandomUpdatesPreserveInvariants(t *testing.T) {
	for _, policy := range []CrossPolicy{CrossReject, CrossAutoResolve, CrossTrustNewest} {
		rng := rand.New(rand.NewSource(42))
		b := newTestBook(policy)

		var ts num.Timestamp
		lastSeq := b.Sequence()
		for i := 0; i < 5000; i++ {
			ts += num.Timestamp(rng.Intn(3)) // occasionally repeat a timestamp
			side := SideBid
			if rng.Intn(2) == 1 {
				side = SideAsk
			}
			// Prices cluster around 100 with outliers, exercising ROI,
			// array, and sparse storage together.
			px := 100 + float64(rng.Intn(200)-100)*0.01
			if rng.Intn(20) == 0 {
				px += float64(rng.Intn(100)) // outlier far above the band
			}
			qty := num.FromFloat(float64(rng.Intn(10))) // zero qty removes
			level := rng.Intn(40)
			if rng.Intn(4) == 0 {
				level = 0
			}

			err := b.ApplyUpdate(L2Update{Side: side, Price: num.FromFloat(px), Qty: qty, Level: level, Ts: ts})

			seq := b.Sequence()
			if err != nil {
				require.Equal(t, lastSeq, seq, "step %d: rejected update advanced sequence", i)
			} else {
				require.Equal(t, lastSeq+1, seq, "step %d: accepted update must advance sequence by one", i)
			}
			lastSeq = seq

			snap := b.Snapshot(64)
			for _, lvl := range append(snap.Bids, snap.Asks...) {
				require.False(t, lvl.Qty.IsZero(), "step %d: zero-qty level visible in snapshot", i)
			}

			if policy == CrossReject {
				bid, bidOK, ask, askOK := b.BBO()
				if bidOK && askOK {
					require.True(t, bid.Price.LessThan(ask.Price),
						"step %d: crossed book under reject policy (bid %s >= ask %s)", i, bid.Price, ask.Price)
				}
			}
		}
	}
}
