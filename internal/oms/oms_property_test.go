package oms

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shrivenq/tradecore/pkg/num"
)

// Random mixed create/fill/amend/cancel sequences must preserve the §8
// order invariants after every operation: executed + remaining =
// requested, Σfills = executed, strictly increasing versions, and
// terminal immutability.
func TestRandomLifecyclePreservesInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := newTestManager(t)

	var ids []uint64
	versions := make(map[uint64]uint64)
	var ts num.Timestamp

	checkAll := func(step int) {
		for _, o := range m.Orders() {
			require.Equal(t, o.RequestedQty, o.ExecutedQty.Add(o.RemainingQty),
				"step %d order %d: executed+remaining != requested", step, o.ID)
			var sum num.Qty
			for _, f := range o.Fills {
				sum = sum.Add(f.Qty)
			}
			require.Equal(t, o.ExecutedQty, sum, "step %d order %d: sum(fills) != executed", step, o.ID)
			require.GreaterOrEqual(t, o.Version, versions[o.ID],
				"step %d order %d: version moved backwards", step, o.ID)
			versions[o.ID] = o.Version
		}
	}

	for step := 0; step < 3000; step++ {
		ts++
		switch op := rng.Intn(10); {
		case op < 3 || len(ids) == 0: // create
			qty := float64(rng.Intn(100) + 1)
			order, err := m.Create(limitReq(fmt.Sprintf("prop-%d", step), qty, 10))
			require.NoError(t, err)
			ids = append(ids, order.ID)

		case op < 7: // fill a random order with a random slice of remaining
			id := ids[rng.Intn(len(ids))]
			o, ok := m.ByID(id)
			require.True(t, ok)
			if o.Status.Terminal() || o.RemainingQty.IsZero() {
				continue
			}
			fillQty := num.Fixed(rng.Int63n(int64(o.RemainingQty)) + 1)
			prevVersion := o.Version
			filled, err := m.ApplyFill(id, Fill{
				ExecutionID: fmt.Sprintf("x-%d", step),
				Qty:         fillQty,
				Price:       num.FromFloat(10),
				Ts:          ts,
			})
			require.NoError(t, err)
			require.Greater(t, filled.Version, prevVersion)

		case op < 8: // amend qty within legal bounds
			id := ids[rng.Intn(len(ids))]
			o, ok := m.ByID(id)
			require.True(t, ok)
			if o.Status.Terminal() {
				_, err := m.Amend(id, Amendment{Ts: ts})
				require.Error(t, err, "amending a terminal order must fail")
				continue
			}
			newQty := o.ExecutedQty.Add(num.Fixed(rng.Int63n(int64(num.FromFloat(50))) + 1))
			_, err := m.Amend(id, Amendment{NewQty: &newQty, Reason: "prop", Ts: ts})
			require.NoError(t, err)

		case op < 9: // cancel
			id := ids[rng.Intn(len(ids))]
			o, ok := m.ByID(id)
			require.True(t, ok)
			_, err := m.Cancel(id, "prop", ts)
			if o.Status.Terminal() {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

		default: // attempt an illegal oversized fill; must be rejected cleanly
			id := ids[rng.Intn(len(ids))]
			o, ok := m.ByID(id)
			require.True(t, ok)
			if o.Status.Terminal() {
				continue
			}
			_, err := m.ApplyFill(id, Fill{
				ExecutionID: fmt.Sprintf("over-%d", step),
				Qty:         o.RemainingQty.Add(num.FromFloat(1)),
				Price:       num.FromFloat(10),
				Ts:          ts,
			})
			require.Error(t, err)
		}

		checkAll(step)
	}
}
