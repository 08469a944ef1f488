package router

import (
	"context"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/oms"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// RunReports drains adapter's execution reports until ctx is done or
// the channel closes, correlating each to an order and applying its
// effect via the OMS, per spec §4.G "Execution report correlation".
// One goroutine per venue adapter, matching the I/O task class of
// spec §5 ("feed and venue adapter tasks").
func (r *Router) RunReports(ctx context.Context, venue string, adapter ports.VenueExecutionAdapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-adapter.Reports():
			if !ok {
				return
			}
			r.handleReport(venue, report)
		}
	}
}

// handleReport matches an inbound report first by venue order id, then
// by client order id; unmatched reports are logged and dropped rather
// than creating phantom orders (spec §4.G "Execution report correlation").
func (r *Router) handleReport(venue string, report ports.ExecutionReport) {
	order, ok := r.oms.ByVenueOrderID(string(report.VenueOrderID))
	if !ok {
		order, ok = r.oms.ByClientID(report.ClientOrderID)
	}
	if !ok {
		r.logger.Warn("execution report matched no known order; dropped",
			zap.String("venue", venue),
			zap.String("venue_order_id", string(report.VenueOrderID)),
			zap.String("client_order_id", report.ClientOrderID))
		return
	}

	switch report.Kind {
	case ports.ReportNew:
		if _, err := r.oms.AcknowledgeWithVenueID(order.ID, string(report.VenueOrderID), report.Ts); err != nil {
			r.logger.Warn("failed to acknowledge order on New report", zap.Uint64("order_id", order.ID), zap.Error(err))
		}
	case ports.ReportPartialFill, ports.ReportFill:
		r.applyFillFromReport(venue, order, report)
	case ports.ReportCancelled:
		if _, err := r.oms.Cancel(order.ID, "venue cancelled", report.Ts); err != nil {
			r.logger.Warn("failed to apply venue cancellation", zap.Uint64("order_id", order.ID), zap.Error(err))
		}
	case ports.ReportRejected:
		if _, err := r.oms.Reject(order.ID, report.RejectReason, report.Ts); err != nil {
			r.logger.Warn("failed to apply venue rejection", zap.Uint64("order_id", order.ID), zap.Error(err))
		}
	case ports.ReportExpired:
		if _, err := r.oms.Expire(order.ID, report.Ts); err != nil {
			r.logger.Warn("failed to apply venue expiry", zap.Uint64("order_id", order.ID), zap.Error(err))
		}
	case ports.ReportReplaced, ports.ReportStatus:
		// No order-state action beyond what OMS already tracks; logged for traceability.
		r.logger.Debug("execution report observed", zap.Uint64("order_id", order.ID), zap.Int("kind", int(report.Kind)))
	}
}

// applyFillFromReport takes the fill's quantity from report.LastQty,
// or, when that is zero, from report.CumQty minus the order's
// already-executed quantity; it computes maker/taker attribution and
// commission and applies the fill via the OMS, per spec §4.G
// "Fill enrichment".
func (r *Router) applyFillFromReport(venue string, order oms.Order, report ports.ExecutionReport) {
	qty := report.LastQty
	if qty.IsZero() {
		qty = report.CumQty.Sub(order.ExecutedQty)
	}
	if qty.LessOrEqual(num.Zero) {
		return
	}

	price := report.LastPrice
	if price.IsZero() {
		price = report.AvgPrice
	}

	isMaker := r.attributeMakerTaker(order, report)
	commission := r.commission(venue, order.Side, qty, price, isMaker)

	// A report without a venue order id still needs a unique execution
	// id for the fill ledger; ksuid embeds time so ids stay k-sortable.
	execID := string(report.VenueOrderID)
	if execID == "" {
		execID = ksuid.New().String()
	}

	fill := oms.Fill{
		ExecutionID: execID,
		Qty:         qty,
		Price:       price,
		IsMaker:     isMaker,
		Commission:  commission,
		Currency:    "USD",
		Ts:          report.Ts,
	}
	if _, err := r.oms.ApplyFill(order.ID, fill); err != nil {
		r.logger.Warn("failed to apply fill from execution report",
			zap.Uint64("order_id", order.ID), zap.Error(err))
	}
}

// attributeMakerTaker implements spec §4.G's deterministic rule: a
// market order is always taker; otherwise the venue's reported
// aggressor side decides, defaulting to taker when unknown. Never
// randomized.
func (r *Router) attributeMakerTaker(order oms.Order, report ports.ExecutionReport) bool {
	if order.Type == ports.OrderTypeMarket {
		return false
	}
	if report.Aggressor == nil || *report.Aggressor == ports.AggressorUnknown {
		return false
	}
	aggressorSide := ports.SideBuy
	if *report.Aggressor == ports.AggressorSell {
		aggressorSide = ports.SideSell
	}
	return aggressorSide != order.Side
}

// commission implements spec §4.G: trade_value * fee_bp / 10_000 in
// fixed-point, where fee_bp depends on maker/taker and the dispatching
// venue's fee schedule.
func (r *Router) commission(venue string, side ports.Side, qty num.Qty, price num.Price, isMaker bool) num.Amount {
	schedule, ok := r.cfg.FeeSchedules[venue]
	if !ok {
		return num.Zero
	}
	feeBP := schedule.TakerBP
	if isMaker {
		feeBP = schedule.MakerBP
	}
	tradeValue := qty.Mul(price)
	return num.Fixed(int64(tradeValue) * feeBP / 10_000)
}
