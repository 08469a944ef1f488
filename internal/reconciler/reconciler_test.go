package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/oms"
	"github.com/shrivenq/tradecore/internal/position"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

func newFixture(t *testing.T, autoRepair bool) (*Reconciler, *position.Tracker, *oms.Manager) {
	t.Helper()
	tracker := position.New()
	mgr := oms.New(nil, nil, tracker, zap.NewNop())
	cfg := DefaultConfig()
	cfg.AutoRepair = autoRepair
	cfg.DedupWindow = time.Minute
	return New(cfg, tracker, mgr, nil, nil, zap.NewNop()), tracker, mgr
}

func createOrder(t *testing.T, mgr *oms.Manager, clientID string, qty float64) oms.Order {
	t.Helper()
	px := num.FromFloat(10)
	order, err := mgr.Create(oms.CreateRequest{
		ClientOrderID: clientID,
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeLimit,
		Qty:           num.FromFloat(qty),
		LimitPrice:    &px,
		Ts:            1,
	})
	require.NoError(t, err)
	return order
}

func TestCleanStateReportsNothing(t *testing.T) {
	rec, tracker, mgr := newFixture(t, false)

	order := createOrder(t, mgr, "clean", 100)
	_, err := mgr.ApplyFill(order.ID, oms.Fill{ExecutionID: "e1", Qty: num.FromFloat(40), Price: num.FromFloat(10), Ts: 2})
	require.NoError(t, err)
	tracker.Mark(1, num.FromFloat(9), num.FromFloat(11), 3)

	report := rec.RunOnce()
	assert.Empty(t, report.Discrepancies)
	assert.NotEmpty(t, report.RunID)
}

// The position aggregate invariant total == realized + unrealized must
// hold after reconciliation even when the cached aggregate drifted.
func TestGlobalPnLAggregateCorrected(t *testing.T) {
	rec, tracker, _ := newFixture(t, false)

	tracker.ApplyFill(1, ports.SideBuy, num.FromFloat(10), num.FromFloat(100), 1)
	tracker.ApplyFill(1, ports.SideSell, num.FromFloat(15), num.FromFloat(110), 2)

	report := rec.RunOnce()
	// The tracker's own adds were consistent, so no drift is expected —
	// but the invariant must hold either way.
	global := tracker.GlobalPnL()
	assert.Equal(t, global.Total, global.Realized.Add(global.Unrealized))
	assert.True(t, report.PnLDrift.Realized.IsZero())
}

func TestMissingParentDetected(t *testing.T) {
	rec, _, mgr := newFixture(t, false)

	child := createOrder(t, mgr, "orphan", 10)
	_ = child
	req := oms.CreateRequest{
		ClientOrderID: "orphan2",
		ParentOrderID: 9999, // no such order
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeMarket,
		Qty:           num.FromFloat(5),
		Ts:            1,
	}
	_, err := mgr.Create(req)
	require.NoError(t, err)

	report := rec.RunOnce()
	var found bool
	for _, d := range report.Discrepancies {
		if d.Kind == CheckMissingParent {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRepeatRunsReportSameFindings(t *testing.T) {
	rec, _, mgr := newFixture(t, false)

	req := oms.CreateRequest{
		ClientOrderID: "dup",
		ParentOrderID: 424242,
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeMarket,
		Qty:           num.FromFloat(5),
		Ts:            1,
	}
	_, err := mgr.Create(req)
	require.NoError(t, err)

	first := rec.RunOnce()
	require.NotEmpty(t, first.Discrepancies)

	// The second run still detects the violation (the report is
	// complete); only the publish/log side is deduplicated, which is
	// not directly observable here without a bus — the important part
	// is that repeated runs stay stable.
	second := rec.RunOnce()
	assert.Equal(t, len(first.Discrepancies), len(second.Discrepancies))
}

func TestPeriodicStartRuns(t *testing.T) {
	rec, _, _ := newFixture(t, false)
	rec.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	rec.Start(ctx)
	<-ctx.Done()
	// No assertion beyond absence of panics/data races; RunOnce output
	// is covered above.
}
