package algo

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/pkg/num"
)

// ChildSubmitter turns an emitted ChildOrderSpec into a live child
// order; the execution router satisfies this in the app wiring. The
// engine itself stays pure (spec §4.F "it never performs I/O").
type ChildSubmitter interface {
	SubmitChild(ctx context.Context, parent ParentRef, spec ChildOrderSpec) (uint64, error)
}

// Driver owns the live engines and drives them with clock ticks and
// market-volume observations, the timer/driver task class of spec §5.
type Driver struct {
	logger    *zap.Logger
	submitter ChildSubmitter

	mu      sync.Mutex
	engines map[uint64]*Engine     // keyed by parent order id
	volumes map[num.Symbol]num.Qty // latest market-volume observation per symbol
}

// NewDriver constructs a Driver around submitter.
func NewDriver(submitter ChildSubmitter, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		logger:    logger,
		submitter: submitter,
		engines:   make(map[uint64]*Engine),
		volumes:   make(map[num.Symbol]num.Qty),
	}
}

// Register starts driving engine; slices emit on subsequent ticks.
func (d *Driver) Register(engine *Engine) {
	d.mu.Lock()
	d.engines[engine.Parent.OrderID] = engine
	d.mu.Unlock()
}

// OnMarketVolume records a market-volume observation for symbol,
// consumed by VWAP engines on the next tick.
func (d *Driver) OnMarketVolume(symbol num.Symbol, volume num.Qty) {
	d.mu.Lock()
	d.volumes[symbol] = volume
	d.mu.Unlock()
}

// OnChildFill forwards a child order's fill quantity to its parent's
// engine, advancing the iceberg display-refresh cursor and the
// cumulative executed count.
func (d *Driver) OnChildFill(parentOrderID uint64, qty num.Qty) {
	d.mu.Lock()
	e, ok := d.engines[parentOrderID]
	d.mu.Unlock()
	if !ok {
		return
	}
	e.OnFill(qty)
}

// Tick polls every engine once at now, submitting whatever slices are
// due. Completed engines are dropped.
func (d *Driver) Tick(ctx context.Context, now num.Timestamp) {
	d.mu.Lock()
	engines := make([]*Engine, 0, len(d.engines))
	for _, e := range d.engines {
		engines = append(engines, e)
	}
	d.mu.Unlock()

	for _, e := range engines {
		d.mu.Lock()
		vol := d.volumes[e.Parent.Symbol]
		d.mu.Unlock()

		spec, ok := e.NextSlice(Context{Now: now, MarketVolume: vol})
		if ok {
			childID, err := d.submitter.SubmitChild(ctx, e.Parent, spec)
			if err != nil {
				d.logger.Warn("child slice submission failed",
					zap.Uint64("parent_order_id", e.Parent.OrderID), zap.Error(err))
			} else {
				e.RecordChild(childID)
			}
		}
		if e.Completed() {
			d.mu.Lock()
			delete(d.engines, e.Parent.OrderID)
			d.mu.Unlock()
		}
	}
}

// Run ticks every interval until ctx is done.
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			d.Tick(ctx, num.Timestamp(t.UnixNano()))
		}
	}
}
