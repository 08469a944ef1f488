// Package router implements the execution router of spec §4.G:
// risk-gated submit/cancel/modify, venue selection, and execution
// report correlation sitting between the OMS and the venue adapters.
package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shrivenq/tradecore/internal/oms"
	"github.com/shrivenq/tradecore/internal/validation"
	trerr "github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// VenueStrategy selects which venue an order without an explicit venue
// is routed to, per spec §4.G "Assign venue".
type VenueStrategy string

const (
	StrategyPrimary VenueStrategy = "primary"
	StrategySmart   VenueStrategy = "smart"
)

// FeeSchedule gives the maker/taker fee in basis points for a venue,
// consumed by the commission formula in spec §4.G "Fill enrichment".
type FeeSchedule struct {
	MakerBP int64
	TakerBP int64
}

// SymbolLookup resolves a Symbol to its venue-facing string, needed by
// the smart strategy's "symbol suffix class" rule.
type SymbolLookup interface {
	Lookup(s num.Symbol) (string, bool)
}

// Config configures a Router's venue-selection and resilience behavior.
type Config struct {
	Strategy      VenueStrategy
	PrimaryVenue  string
	SmartNotionalBP int64 // notional (fixed-point) threshold above which smart routes to PrimaryVenue
	SmartLargeVenue string
	SmartSmallVenue string
	FeeSchedules  map[string]FeeSchedule

	SubmitRatePerSec int
	SubmitRateBurst  int

	// RiskRequired makes Submit fail closed when no risk manager is
	// reachable (spec §6 `risk.required`).
	RiskRequired bool

	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration

	CallTimeout time.Duration
}

// DefaultConfig returns defaults matching pkg/config.Default() for the
// strategy, venue, notional and submit-rate keys; RiskRequired and
// FeeSchedules are left at their zero values here.
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategySmart,
		PrimaryVenue:       "primary",
		SmartNotionalBP:    1_000_000 * num.Scale,
		SmartLargeVenue:    "primary",
		SmartSmallVenue:    "primary",
		SubmitRatePerSec:   50,
		SubmitRateBurst:    100,
		BreakerMaxRequests: 5,
		BreakerInterval:    30 * time.Second,
		BreakerTimeout:     60 * time.Second,
		CallTimeout:        5 * time.Second,
	}
}

// Router is the collaborator described by spec §4.G: it consults risk,
// assigns a venue, persists via the OMS, and dispatches to a venue
// adapter, then correlates inbound execution reports back onto orders.
type Router struct {
	logger *zap.Logger
	cfg    Config

	oms     *oms.Manager
	risk    ports.RiskManager
	symbols SymbolLookup

	mu      sync.RWMutex
	venues  map[string]ports.VenueExecutionAdapter
	limiter *accountLimiter

	requests *validation.Validator
	breakers *breakerRegistry
}

// New constructs a Router. venues maps a venue name to its adapter;
// at least PrimaryVenue must be present for the primary/smart
// strategies to resolve.
func New(cfg Config, mgr *oms.Manager, risk ports.RiskManager, symbols SymbolLookup, venues map[string]ports.VenueExecutionAdapter, logger *zap.Logger) *Router {
	return &Router{
		logger:   logger,
		cfg:      cfg,
		oms:      mgr,
		risk:     risk,
		symbols:  symbols,
		venues:   venues,
		limiter:  newAccountLimiter(cfg.SubmitRatePerSec, cfg.SubmitRateBurst),
		requests: validation.New(),
		breakers: newBreakerRegistry(cfg.BreakerMaxRequests, cfg.BreakerInterval, cfg.BreakerTimeout, logger),
	}
}

// SubmitRequest is the input to Submit, per spec §3 "Order" fields the
// caller supplies versus what the OMS assigns.
type SubmitRequest struct {
	Account       string
	ClientOrderID string `validate:"required"`
	ParentOrderID uint64
	Symbol        num.Symbol `validate:"gt=0"`
	Side          ports.Side
	Type          ports.OrderType
	TimeInForce   ports.TimeInForce
	Qty           num.Qty    `validate:"qty"`
	LimitPrice    *num.Price `validate:"omitempty,price"`
	StopPrice     *num.Price `validate:"omitempty,price"`
	Venue         string // caller-specified venue, empty to use the configured strategy
	StrategyID    string
	Ts            num.Timestamp
}

// Submit implements spec §4.G's submit path: risk check, venue
// assignment, OMS persistence, then venue dispatch. On adapter
// failure the order is transitioned to Rejected and the error bubbles.
func (r *Router) Submit(ctx context.Context, req SubmitRequest) (oms.Order, error) {
	if err := r.requests.Struct(req); err != nil {
		return oms.Order{}, err
	}
	if !r.limiter.Allow(req.Account) {
		return oms.Order{}, trerr.New(trerr.ErrRiskRejected, "submit rate limit exceeded for account "+req.Account)
	}

	price := req.LimitPrice
	checkPrice := num.Zero
	if price != nil {
		checkPrice = num.Qty(*price)
	}
	if r.risk == nil {
		if r.cfg.RiskRequired {
			return oms.Order{}, trerr.New(trerr.ErrRiskRejected, "risk manager unavailable and risk.required is set")
		}
	} else {
		decision, err := r.risk.Check(ctx, req.Symbol, req.Side, req.Qty, checkPrice)
		if err != nil {
			if r.cfg.RiskRequired {
				return oms.Order{}, trerr.Wrap(err, trerr.ErrRiskRejected, "risk check failed")
			}
			r.logger.Warn("risk check failed; risk.required is off, continuing", zap.Error(err))
		} else {
			switch decision.Verdict {
			case ports.RiskReject:
				return oms.Order{}, trerr.New(trerr.ErrRiskRejected, decision.Reason)
			case ports.RiskRequiresApproval:
				return oms.Order{}, trerr.New(trerr.ErrRiskApprovalRequired, decision.Reason)
			}
		}
	}

	venue := req.Venue
	if venue == "" {
		var err error
		venue, err = r.selectVenue(req)
		if err != nil {
			return oms.Order{}, err
		}
	}

	order, err := r.oms.Create(oms.CreateRequest{
		ClientOrderID: req.ClientOrderID,
		ParentOrderID: req.ParentOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Qty:           req.Qty,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Venue:         venue,
		StrategyID:    req.StrategyID,
		Ts:            req.Ts,
	})
	if err != nil {
		return oms.Order{}, err
	}

	if _, err := r.oms.Submit(order.ID, req.Ts); err != nil {
		return oms.Order{}, err
	}

	adapter, ok := r.adapterFor(venue)
	if !ok {
		_, _ = r.oms.Reject(order.ID, "unknown venue "+venue, req.Ts)
		return oms.Order{}, trerr.New(trerr.ErrVenue, "no adapter registered for venue "+venue)
	}

	spec := ports.OrderSpec{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Qty:           order.RequestedQty,
		TimeInForce:   order.TimeInForce,
	}
	if order.LimitPrice != nil {
		spec.Price = *order.LimitPrice
	}
	if order.StopPrice != nil {
		spec.StopPrice = *order.StopPrice
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	result, err := r.breakers.breakerFor(venue).Execute(func() (interface{}, error) {
		return adapter.Submit(callCtx, spec)
	})
	if err != nil {
		rejected, rejErr := r.oms.Reject(order.ID, err.Error(), req.Ts)
		if rejErr != nil {
			r.logger.Error("failed to mark order rejected after dispatch failure",
				zap.Uint64("order_id", order.ID), zap.Error(rejErr))
		}
		return rejected, trerr.Wrap(err, trerr.ErrVenue, "venue submit failed")
	}

	venueOrderID, _ := result.(ports.VenueOrderID)
	acked, err := r.oms.AcknowledgeWithVenueID(order.ID, string(venueOrderID), req.Ts)
	if err != nil {
		return order, err
	}
	return acked, nil
}

// venueDispatchID resolves the identifier the venue knows an order by:
// the venue-assigned id recorded at ack, falling back to the client
// order id for orders the venue never acknowledged.
func venueDispatchID(order oms.Order) ports.VenueOrderID {
	if order.VenueOrderID != "" {
		return ports.VenueOrderID(order.VenueOrderID)
	}
	return ports.VenueOrderID(order.ClientOrderID)
}

// Cancel implements spec §4.G's cancel path: FSM transition and
// persistence first, then venue dispatch; an adapter failure leaves
// the local state cancelled and is not rolled back. The failure is
// logged as a warning only; no reconciliation discrepancy is recorded
// for it.
func (r *Router) Cancel(ctx context.Context, orderID uint64, reason string, ts num.Timestamp) (oms.Order, error) {
	order, err := r.oms.Cancel(orderID, reason, ts)
	if err != nil {
		return oms.Order{}, err
	}
	adapter, ok := r.adapterFor(order.Venue)
	if !ok {
		return order, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	_, err = r.breakers.breakerFor(order.Venue).Execute(func() (interface{}, error) {
		return nil, adapter.Cancel(callCtx, venueDispatchID(order))
	})
	if err != nil {
		r.logger.Warn("venue cancel dispatch failed; local state already cancelled",
			zap.Uint64("order_id", orderID), zap.String("venue", order.Venue), zap.Error(err))
	}
	return order, nil
}

// Modify implements spec §4.G's modify path, mirroring Cancel's
// locally-first, dispatch-second, never-rollback semantics.
func (r *Router) Modify(ctx context.Context, orderID uint64, newQty *num.Qty, newPrice *num.Price, reason string, ts num.Timestamp) (oms.Order, error) {
	order, err := r.oms.Amend(orderID, oms.Amendment{NewQty: newQty, NewPrice: newPrice, Reason: reason, Ts: ts})
	if err != nil {
		return oms.Order{}, err
	}
	adapter, ok := r.adapterFor(order.Venue)
	if !ok {
		return order, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	var newQtyFixed, newPriceFixed *num.Fixed
	if newQty != nil {
		f := num.Fixed(*newQty)
		newQtyFixed = &f
	}
	if newPrice != nil {
		f := num.Fixed(*newPrice)
		newPriceFixed = &f
	}
	_, err = r.breakers.breakerFor(order.Venue).Execute(func() (interface{}, error) {
		return nil, adapter.Modify(callCtx, venueDispatchID(order), newQtyFixed, newPriceFixed)
	})
	if err != nil {
		r.logger.Warn("venue modify dispatch failed; local state already amended",
			zap.Uint64("order_id", orderID), zap.String("venue", order.Venue), zap.Error(err))
	}
	return order, nil
}

func (r *Router) adapterFor(venue string) (ports.VenueExecutionAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.venues[venue]
	return a, ok
}
