// Package oms implements the order lifecycle state machine, its
// durable write-ahead log, and parent/child order graph, per spec §4.E.
package oms

import (
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// Status is an order's position in the lifecycle FSM.
type Status int

const (
	StatusNew Status = iota
	StatusPending
	StatusAcknowledged
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusPending:
		return "pending"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a terminal state (spec §4.E).
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Fill links to an order, per spec §3 "Fill".
type Fill struct {
	ExecutionID string
	Qty         num.Qty
	Price       num.Price
	IsMaker     bool
	Commission  num.Amount
	Currency    string
	Ts          num.Timestamp
}

// Amendment links to an order, per spec §3 "Amendment".
type Amendment struct {
	NewQty   *num.Qty
	NewPrice *num.Price
	Reason   string
	Ts       num.Timestamp
}

// Order is the durable, versioned entity at the center of the OMS.
type Order struct {
	ID             uint64
	ClientOrderID  string
	VenueOrderID   string // assigned by the venue on acknowledgement
	ParentOrderID  uint64 // 0 means no parent
	Symbol         num.Symbol
	Side           ports.Side
	Type           ports.OrderType
	TimeInForce    ports.TimeInForce
	RequestedQty   num.Qty
	ExecutedQty    num.Qty
	RemainingQty   num.Qty
	LimitPrice     *num.Price
	StopPrice      *num.Price
	Status         Status
	Venue          string
	StrategyID     string
	CreatedTs      num.Timestamp
	UpdatedTs      num.Timestamp
	Version        uint64
	Fills          []Fill
	Amendments     []Amendment
}

// CreateRequest is the input to Manager.Create.
type CreateRequest struct {
	ClientOrderID string
	ParentOrderID uint64
	Symbol        num.Symbol
	Side          ports.Side
	Type          ports.OrderType
	TimeInForce   ports.TimeInForce
	Qty           num.Qty
	LimitPrice    *num.Price
	StopPrice     *num.Price
	Venue         string
	StrategyID    string
	Ts            num.Timestamp
}
