// Package algo implements the execution-algorithm slicers of spec
// §4.F: TWAP, VWAP, and Iceberg. Each is a pure state machine driven
// by external ticks — wall clock for TWAP, market-volume observations
// for VWAP, fill events for Iceberg — and never performs I/O, per
// spec's "it never performs I/O". Per spec §9 and SPEC_FULL §4.F, the
// three kinds are a tagged variant switched on inside one Engine, not
// an interface/vtable graph.
package algo

import (
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// Kind identifies which slicing algorithm an Engine runs.
type Kind int

const (
	KindTWAP Kind = iota
	KindVWAP
	KindIceberg
)

// Params configures an Engine, per spec §3 "Execution algorithm state".
// Fields not relevant to a Kind are simply unused by it.
type Params struct {
	Start              num.Timestamp
	End                num.Timestamp
	MaxParticipationBP int64   // basis points, VWAP only
	MinSlice           num.Qty
	MaxSlice           num.Qty
	PriceCap           *num.Price
	Urgency            int

	Buckets     int     // TWAP: number of equal time buckets across [Start,End]
	DisplayQty  num.Qty // Iceberg: visible display quantity D
}

// ChildOrderSpec is what NextSlice emits for the router to dispatch as
// a child order, per spec §4.F.
type ChildOrderSpec struct {
	Symbol      num.Symbol
	Side        ports.Side
	Qty         num.Qty
	Price       *num.Price // PriceCap, if the parent's limit is overridden
	TimeInForce ports.TimeInForce
}

// Context carries the external inputs an Engine's NextSlice needs,
// per spec §4.F ("driven by external ticks").
type Context struct {
	Now           num.Timestamp
	MarketVolume  num.Qty // VWAP: latest observed market volume
}

// Engine is a tagged-variant execution algorithm state machine, per
// spec §3 "Execution algorithm state" and §4.F.
type Engine struct {
	Kind   Kind
	Parent ParentRef
	Params Params

	started   bool
	completed bool
	cumExec   num.Qty
	children  []uint64

	// TWAP cursor: index of the last bucket a slice was emitted for, -1
	// before the first slice.
	lastBucket int

	// VWAP cursor: none beyond started/completed; purely observation-driven.

	// Iceberg cursor: the currently outstanding child's remaining display
	// qty and whether a child is currently outstanding.
	outstanding     bool
	currentDisplay  num.Qty
}

// ParentRef is the minimal parent-order context an Engine needs.
type ParentRef struct {
	OrderID     uint64
	Symbol      num.Symbol
	Side        ports.Side
	Qty         num.Qty
	TimeInForce ports.TimeInForce
}

// New constructs an Engine for kind with the given parent and params,
// per spec §3's cursor styles ("time-based for TWAP, volume-based for
// VWAP, display-refresh for iceberg").
func New(kind Kind, parent ParentRef, params Params) *Engine {
	return &Engine{
		Kind:       kind,
		Parent:     parent,
		Params:     params,
		lastBucket: -1,
	}
}

// Remaining returns the parent qty not yet executed by this engine.
func (e *Engine) Remaining() num.Qty {
	return e.Parent.Qty.Sub(e.cumExec)
}

// Completed reports whether the engine has emitted its final slice.
func (e *Engine) Completed() bool { return e.completed }

// EmittedChildren returns the order ids of every child this engine has emitted.
func (e *Engine) EmittedChildren() []uint64 { return append([]uint64(nil), e.children...) }

// RecordChild appends childID to the emitted list; called by the
// caller once it has created the child order from a ChildOrderSpec.
func (e *Engine) RecordChild(childID uint64) { e.children = append(e.children, childID) }

// clampSlice enforces [MinSlice, MaxSlice] and never exceeds remaining,
// the invariant shared by all three kinds (spec §4.F "All three enforce").
func (e *Engine) clampSlice(qty num.Qty) num.Qty {
	if qty.GreaterThan(e.Remaining()) {
		qty = e.Remaining()
	}
	if !e.Params.MaxSlice.IsZero() && qty.GreaterThan(e.Params.MaxSlice) {
		qty = e.Params.MaxSlice
	}
	if qty.LessThan(e.Params.MinSlice) && e.Remaining().GreaterOrEqual(e.Params.MinSlice) {
		qty = e.Params.MinSlice
	}
	return qty
}

// buildSpec sets the child's price to Params.PriceCap (nil when no cap
// is set). The cap is used as given: it is not compared with the
// parent's own limit price, which ParentRef does not carry.
func (e *Engine) buildSpec(qty num.Qty) ChildOrderSpec {
	return ChildOrderSpec{
		Symbol:      e.Parent.Symbol,
		Side:        e.Parent.Side,
		Qty:         qty,
		Price:       e.Params.PriceCap,
		TimeInForce: e.Parent.TimeInForce,
	}
}

// NextSlice returns the next child to emit, or ok=false if the engine
// has nothing to emit right now, per spec §4.F.
func (e *Engine) NextSlice(ctx Context) (ChildOrderSpec, bool) {
	if e.completed || e.Remaining().IsZero() {
		return ChildOrderSpec{}, false
	}
	switch e.Kind {
	case KindTWAP:
		return e.nextTWAP(ctx)
	case KindVWAP:
		return e.nextVWAP(ctx)
	case KindIceberg:
		return e.nextIceberg(ctx)
	default:
		return ChildOrderSpec{}, false
	}
}

// OnFill updates the engine's cumulative executed quantity and, for
// Iceberg, decides whether to refresh the display, per spec §4.F.
func (e *Engine) OnFill(qty num.Qty) {
	e.cumExec = e.cumExec.Add(qty)
	if e.Kind == KindIceberg {
		e.currentDisplay = e.currentDisplay.Sub(qty)
		if e.currentDisplay.LessOrEqual(num.Zero) {
			e.outstanding = false
		}
	}
	if e.Remaining().IsZero() {
		e.completed = true
	}
}
