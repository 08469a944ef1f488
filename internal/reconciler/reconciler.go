// Package reconciler runs the periodic global invariant check of spec
// §4.I across the position tracker and the OMS: per-symbol PnL must sum
// to the global aggregate, per-order fills must sum to executed qty, no
// order may reference a missing parent, and no fill may be orphaned.
// Fills are read from the OMS orders only; no router state is read.
// Violations are logged with the
// offending ids and a suggested repair; applying repairs is gated by
// configuration.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/oms"
	"github.com/shrivenq/tradecore/internal/position"
	"github.com/shrivenq/tradecore/pkg/num"
)

// TopicDiscrepancies is where reconciliation findings are published,
// alongside the OMS event topics on the same bus.
const TopicDiscrepancies = "reconciler.discrepancies"

// CheckKind identifies which invariant a Discrepancy violates.
type CheckKind string

const (
	CheckGlobalPnL     CheckKind = "global_pnl_drift"
	CheckFillSum       CheckKind = "fill_sum_mismatch"
	CheckQtyConserved  CheckKind = "qty_not_conserved"
	CheckMissingParent CheckKind = "missing_parent"
	CheckOrphanedFill  CheckKind = "orphaned_fill"
)

// Discrepancy is one detected invariant violation.
type Discrepancy struct {
	Kind         CheckKind
	OrderID      uint64
	Symbol       num.Symbol
	Detail       string
	SuggestedFix string
	Repaired     bool
}

// Report is the outcome of one reconciliation run.
type Report struct {
	RunID         string
	StartedAt     time.Time
	PnLDrift      position.GlobalPnL
	Discrepancies []Discrepancy
}

// TaskRunner submits the periodic check onto the shared timer/driver
// worker pool rather than a raw goroutine (spec §5 task classes);
// internal/workerpool satisfies it.
type TaskRunner interface {
	Submit(task func()) error
}

// Config controls cadence and repair behavior, per spec §6
// `reconciler.interval_secs` / `reconciler.auto_repair`.
type Config struct {
	Interval   time.Duration
	AutoRepair bool
	// DedupWindow suppresses re-publishing a discrepancy already
	// reported within the window, so a persistent violation does not
	// flood the bus every interval.
	DedupWindow time.Duration

	// Observer, if set, receives every completed report (metrics,
	// operator consoles). Called synchronously at the end of RunOnce.
	Observer func(Report)

	// RetainTerminal, when positive, purges terminal orders older than
	// this from the OMS's resident indexes at the end of each pass
	// (spec §6 `oms.retention_days`); the durable log is unaffected.
	RetainTerminal time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		AutoRepair:  false,
		DedupWindow: 5 * time.Minute,
	}
}

// Reconciler walks positions and orders on a fixed cadence or on demand.
type Reconciler struct {
	cfg       Config
	logger    *zap.Logger
	positions *position.Tracker
	orders    *oms.Manager
	publisher message.Publisher
	runner    TaskRunner

	seen *cache.Cache
}

// New constructs a Reconciler. publisher and runner may be nil, in
// which case findings are only logged and Start runs on a plain
// goroutine.
func New(cfg Config, positions *position.Tracker, orders *oms.Manager, publisher message.Publisher, runner TaskRunner, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultConfig().DedupWindow
	}
	return &Reconciler{
		cfg:       cfg,
		logger:    logger,
		positions: positions,
		orders:    orders,
		publisher: publisher,
		runner:    runner,
		seen:      cache.New(cfg.DedupWindow, cfg.DedupWindow),
	}
}

// Start runs the periodic check until ctx is cancelled. Each tick's
// work is handed to the timer/driver pool so a slow check never skews
// the ticker.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run := func() { r.RunOnce() }
				if r.runner != nil {
					if err := r.runner.Submit(run); err != nil {
						r.logger.Warn("reconciler: pool rejected run, executing inline", zap.Error(err))
						run()
					}
				} else {
					run()
				}
			}
		}
	}()
}

// RunOnce executes one full reconciliation pass, per spec §4.I: the
// position aggregate is recomputed and corrected, then every order is
// checked against its fills and its parent.
func (r *Reconciler) RunOnce() Report {
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	// (a) Σ-per-symbol realized + unrealized must equal the global
	// aggregate; Tracker.Reconcile corrects the relaxed-atomic drift and
	// returns what it found.
	drift := r.positions.Reconcile()
	report.PnLDrift = drift
	if !drift.Realized.IsZero() || !drift.Unrealized.IsZero() {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Kind:         CheckGlobalPnL,
			Detail:       fmt.Sprintf("global aggregate drifted by realized=%s unrealized=%s", drift.Realized, drift.Unrealized),
			SuggestedFix: "overwrite aggregate with per-symbol sum",
			Repaired:     true, // Tracker.Reconcile always corrects the aggregate
		})
	}

	orders := r.orders.Orders()
	byID := make(map[uint64]struct{}, len(orders))
	for _, o := range orders {
		byID[o.ID] = struct{}{}
	}

	for _, o := range orders {
		// (b) Σ-per-order fill.qty = order.executed.
		var fillSum num.Qty
		for _, f := range o.Fills {
			fillSum = fillSum.Add(f.Qty)
		}
		if fillSum != o.ExecutedQty {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:         CheckFillSum,
				OrderID:      o.ID,
				Symbol:       o.Symbol,
				Detail:       fmt.Sprintf("sum(fills)=%s executed=%s", fillSum, o.ExecutedQty),
				SuggestedFix: "set executed = sum(fills.qty), recompute remaining",
				Repaired:     r.repairQuantities(o.ID),
			})
		}
		if o.ExecutedQty.Add(o.RemainingQty) != o.RequestedQty {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:         CheckQtyConserved,
				OrderID:      o.ID,
				Symbol:       o.Symbol,
				Detail:       fmt.Sprintf("executed=%s remaining=%s requested=%s", o.ExecutedQty, o.RemainingQty, o.RequestedQty),
				SuggestedFix: "recompute remaining = requested - executed",
				Repaired:     r.repairQuantities(o.ID),
			})
		}
		// (c) no order references a non-existent parent.
		if o.ParentOrderID != 0 {
			if _, ok := byID[o.ParentOrderID]; !ok {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Kind:         CheckMissingParent,
					OrderID:      o.ID,
					Symbol:       o.Symbol,
					Detail:       fmt.Sprintf("parent %d does not exist", o.ParentOrderID),
					SuggestedFix: "detach the child from its missing parent",
				})
			}
		}
		// (d) no orphaned fills: a fill attached to an order with zero
		// executed qty was never accounted for by the lifecycle.
		if len(o.Fills) > 0 && o.ExecutedQty.IsZero() {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:         CheckOrphanedFill,
				OrderID:      o.ID,
				Symbol:       o.Symbol,
				Detail:       fmt.Sprintf("%d fills recorded against executed=0", len(o.Fills)),
				SuggestedFix: "replay fills into executed qty",
			})
		}
	}

	r.emit(&report)

	if r.cfg.RetainTerminal > 0 {
		cutoff := num.Timestamp(time.Now().Add(-r.cfg.RetainTerminal).UnixNano())
		if purged := r.orders.PurgeTerminal(cutoff); purged > 0 {
			r.logger.Info("purged terminal orders past retention", zap.Int("count", purged))
		}
	}

	if r.cfg.Observer != nil {
		r.cfg.Observer(report)
	}
	return report
}

// repairQuantities applies the quantity repair via the OMS when
// auto-repair is enabled, reporting whether the repair was applied.
func (r *Reconciler) repairQuantities(orderID uint64) bool {
	if !r.cfg.AutoRepair {
		return false
	}
	ts := num.Timestamp(time.Now().UnixNano())
	if _, err := r.orders.RepairQuantities(orderID, ts); err != nil {
		r.logger.Warn("reconciler: quantity repair failed", zap.Uint64("order_id", orderID), zap.Error(err))
		return false
	}
	return true
}

// emit logs and publishes each new discrepancy, suppressing ones
// already reported inside the dedup window.
func (r *Reconciler) emit(report *Report) {
	for i := range report.Discrepancies {
		d := &report.Discrepancies[i]
		key := fmt.Sprintf("%s:%d:%s", d.Kind, d.OrderID, d.Detail)
		if _, dup := r.seen.Get(key); dup {
			continue
		}
		r.seen.Set(key, struct{}{}, cache.DefaultExpiration)

		r.logger.Warn("reconciliation discrepancy",
			zap.String("run_id", report.RunID),
			zap.String("kind", string(d.Kind)),
			zap.Uint64("order_id", d.OrderID),
			zap.String("detail", d.Detail),
			zap.String("suggested_fix", d.SuggestedFix),
			zap.Bool("auto_repair", r.cfg.AutoRepair))

		if r.publisher != nil {
			body, err := json.Marshal(d)
			if err != nil {
				continue
			}
			msg := message.NewMessage(uuid.NewString(), body)
			if err := r.publisher.Publish(TopicDiscrepancies, msg); err != nil {
				r.logger.Warn("reconciler: publish failed", zap.Error(err))
			}
		}
	}
}
