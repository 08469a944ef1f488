// Package ports declares the narrow interfaces tradecore consumes from
// external collaborators (spec §6): venue feed/execution adapters and
// the risk manager. Nothing in this module implements these against a
// real transport — WebSocket/REST/gRPC adapters live outside tradecore
// and bind to these interfaces.
package ports

import (
	"context"

	"github.com/shrivenq/tradecore/pkg/num"
)

// Level is a single (price, quantity) pair at a depth index.
type Level struct {
	Price num.Price
	Qty   num.Qty
}

// Snapshot lists a venue's levels for both sides of a book as of
// LastUpdateID.
type Snapshot struct {
	Symbol        num.Symbol
	Ts            num.Timestamp
	Bids          []Level
	Asks          []Level
	LastUpdateID  uint64
}

// Incremental carries a contiguous run of per-level deltas.
type Incremental struct {
	Symbol        num.Symbol
	Ts            num.Timestamp
	FirstUpdateID uint64
	FinalUpdateID uint64
	BidsDelta     []Level
	AsksDelta     []Level
}

// AggressorSide identifies which side initiated a trade.
type AggressorSide int

const (
	AggressorUnknown AggressorSide = iota
	AggressorBuy
	AggressorSell
)

// Trade is a side-less execution report from the venue tape.
type Trade struct {
	Symbol   num.Symbol
	Ts       num.Timestamp
	Price    num.Price
	Qty      num.Qty
	Aggressor AggressorSide
}

// VenueFeedAdapter is the capability interface a venue-specific market
// data connector implements. tradecore's feed normalizer (internal/feed)
// consumes one of these per venue; it never depends on the transport.
type VenueFeedAdapter interface {
	// Subscribe returns channels of snapshots, incrementals and trades
	// for symbol. The adapter owns the goroutine producing into them and
	// closes all three when ctx is done.
	Subscribe(ctx context.Context, symbol num.Symbol) (<-chan Snapshot, <-chan Incremental, <-chan Trade, error)
}
