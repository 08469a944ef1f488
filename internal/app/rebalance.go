package app

import (
	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/optimizer"
	"github.com/shrivenq/tradecore/internal/position"
)

// Rebalancer bridges the position tracker and the portfolio optimizer:
// it snapshots current holdings, runs a weighting strategy, and
// returns the rebalance changes a strategy layer turns into router
// submissions (spec §2: "Optimizer H reads D and emits target weights
// consumed by G").
type Rebalancer struct {
	logger  *zap.Logger
	tracker *position.Tracker
}

// NewRebalancer constructs a Rebalancer over the live tracker.
func NewRebalancer(tracker *position.Tracker, logger *zap.Logger) *Rebalancer {
	return &Rebalancer{logger: logger, tracker: tracker}
}

// Holdings snapshots every tracked position as optimizer input, using
// the last observed mid as the mark price.
func (r *Rebalancer) Holdings() []optimizer.Holding {
	symbols := r.tracker.Symbols()
	out := make([]optimizer.Holding, 0, len(symbols))
	for _, sym := range symbols {
		snap, ok := r.tracker.Snapshot(sym)
		if !ok {
			continue
		}
		out = append(out, optimizer.Holding{
			Symbol:      sym,
			SignedQty:   snap.Qty,
			MarkPrice:   snap.LastMid,
			RealizedPnL: snap.Realized,
		})
	}
	return out
}

// Run executes one optimization pass over the current holdings.
func (r *Rebalancer) Run(strategy optimizer.Strategy, model optimizer.Model, cons optimizer.Constraints) (optimizer.Result, error) {
	result, err := optimizer.Optimize(strategy, r.Holdings(), model, cons)
	if err != nil {
		return optimizer.Result{}, err
	}
	r.logger.Info("rebalance computed",
		zap.String("strategy", string(strategy)),
		zap.Int("positions", len(result.Weights)),
		zap.Int("changes", len(result.Changes)))
	return result, nil
}
