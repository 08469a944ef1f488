package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/oms"
	"github.com/shrivenq/tradecore/internal/oms/wal"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

type fakeRisk struct {
	decision ports.RiskDecision
	err      error
}

func (f *fakeRisk) Check(ctx context.Context, symbol num.Symbol, side ports.Side, qty, price num.Qty) (ports.RiskDecision, error) {
	return f.decision, f.err
}

type fakeAdapter struct {
	submitErr error
	reports   chan ports.ExecutionReport
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{reports: make(chan ports.ExecutionReport, 8)}
}

func (f *fakeAdapter) Submit(ctx context.Context, spec ports.OrderSpec) (ports.VenueOrderID, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return ports.VenueOrderID("V-" + spec.ClientOrderID), nil
}
func (f *fakeAdapter) Cancel(ctx context.Context, id ports.VenueOrderID) error { return nil }
func (f *fakeAdapter) Modify(ctx context.Context, id ports.VenueOrderID, newQty, newPrice *num.Fixed) error {
	return nil
}
func (f *fakeAdapter) Reports() <-chan ports.ExecutionReport { return f.reports }

func newTestRouter(t *testing.T, risk ports.RiskManager, adapter ports.VenueExecutionAdapter) *Router {
	t.Helper()
	logger := zap.NewNop()
	mgr := oms.New(nil, nil, nil, logger)
	cfg := DefaultConfig()
	cfg.Strategy = StrategyPrimary
	cfg.PrimaryVenue = "primary"
	cfg.SubmitRatePerSec = 0 // disable limiter noise in tests
	venues := map[string]ports.VenueExecutionAdapter{"primary": adapter}
	return New(cfg, mgr, risk, nil, venues, logger)
}

func TestSubmitAcceptedRisk(t *testing.T) {
	adapter := newFakeAdapter()
	r := newTestRouter(t, &fakeRisk{decision: ports.RiskDecision{Verdict: ports.RiskAccept}}, adapter)

	order, err := r.Submit(context.Background(), SubmitRequest{
		ClientOrderID: "c1",
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeMarket,
		Qty:           num.FromFloat(10),
		Ts:            1,
	})
	require.NoError(t, err)
	require.Equal(t, oms.StatusAcknowledged, order.Status)
}

func TestSubmitRejectedByRisk(t *testing.T) {
	adapter := newFakeAdapter()
	r := newTestRouter(t, &fakeRisk{decision: ports.RiskDecision{Verdict: ports.RiskReject, Reason: "too big"}}, adapter)

	_, err := r.Submit(context.Background(), SubmitRequest{
		ClientOrderID: "c2",
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeMarket,
		Qty:           num.FromFloat(10),
		Ts:            1,
	})
	require.Error(t, err)
}

// TestSubmitVenueFailureRejectsOrder covers spec §4.G "on adapter
// failure, transition the order to Rejected and bubble the error".
func TestSubmitVenueFailureRejectsOrder(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.submitErr = &ports.AdapterErr{Op: "submit", Venue: "primary", Message: "connection refused"}
	r := newTestRouter(t, &fakeRisk{decision: ports.RiskDecision{Verdict: ports.RiskAccept}}, adapter)

	order, err := r.Submit(context.Background(), SubmitRequest{
		ClientOrderID: "c3",
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeMarket,
		Qty:           num.FromFloat(10),
		Ts:            1,
	})
	require.Error(t, err)
	require.Equal(t, oms.StatusRejected, order.Status)
}

func TestUnsupportedVenueStrategyNamesMissingTelemetry(t *testing.T) {
	adapter := newFakeAdapter()
	r := newTestRouter(t, &fakeRisk{decision: ports.RiskDecision{Verdict: ports.RiskAccept}}, adapter)
	r.cfg.Strategy = "liquidity"

	_, err := r.Submit(context.Background(), SubmitRequest{
		ClientOrderID: "c4",
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeMarket,
		Qty:           num.FromFloat(10),
		Ts:            1,
	})
	require.Error(t, err)
}

// A report carrying only the venue-assigned id correlates through the
// id recorded at acknowledgement, per spec §4.G's venue-id-first rule.
func TestExecutionReportMatchesByVenueOrderID(t *testing.T) {
	adapter := newFakeAdapter()
	r := newTestRouter(t, &fakeRisk{decision: ports.RiskDecision{Verdict: ports.RiskAccept}}, adapter)

	order, err := r.Submit(context.Background(), SubmitRequest{
		ClientOrderID: "c6",
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeMarket,
		Qty:           num.FromFloat(10),
		Ts:            1,
	})
	require.NoError(t, err)
	require.Equal(t, "V-c6", order.VenueOrderID)

	r.handleReport("primary", ports.ExecutionReport{
		VenueOrderID: "V-c6", // no client order id on this report
		Kind:         ports.ReportFill,
		LastQty:      num.FromFloat(10),
		LastPrice:    num.FromFloat(100),
		Ts:           2,
	})

	updated, ok := r.oms.ByID(order.ID)
	require.True(t, ok)
	require.Len(t, updated.Fills, 1)
	require.Equal(t, oms.StatusFilled, updated.Status)
}

func TestExecutionReportCorrelatesUnknownOrderIsDropped(t *testing.T) {
	adapter := newFakeAdapter()
	r := newTestRouter(t, &fakeRisk{decision: ports.RiskDecision{Verdict: ports.RiskAccept}}, adapter)

	r.handleReport("primary", ports.ExecutionReport{ClientOrderID: "ghost", Kind: ports.ReportFill})
	// No panic, no phantom order created: nothing observable to assert
	// beyond the absence of a crash, matching "unmatched reports are
	// logged and dropped".
}

func TestFillEnrichmentDefaultsToTakerForMarketOrders(t *testing.T) {
	adapter := newFakeAdapter()
	r := newTestRouter(t, &fakeRisk{decision: ports.RiskDecision{Verdict: ports.RiskAccept}}, adapter)
	r.cfg.FeeSchedules = map[string]FeeSchedule{"primary": {MakerBP: 2, TakerBP: 7}}

	order, err := r.Submit(context.Background(), SubmitRequest{
		ClientOrderID: "c5",
		Symbol:        1,
		Side:          ports.SideBuy,
		Type:          ports.OrderTypeMarket,
		Qty:           num.FromFloat(10),
		Ts:            1,
	})
	require.NoError(t, err)

	r.handleReport("primary", ports.ExecutionReport{
		ClientOrderID: "c5",
		Kind:          ports.ReportFill,
		CumQty:        num.FromFloat(10),
		LastQty:       num.FromFloat(10),
		LastPrice:     num.FromFloat(100),
		Ts:            2,
	})

	updated, ok := r.oms.ByID(order.ID)
	require.True(t, ok)
	require.Len(t, updated.Fills, 1)
	require.False(t, updated.Fills[0].IsMaker)
	require.Equal(t, num.FromFloat(10).Mul(num.FromFloat(100)).Mul(num.FromFloat(7)).Div(num.FromFloat(10_000)), updated.Fills[0].Commission)
}

var _ = wal.RecordCreate // keep wal import intentional for future WAL-backed router tests
