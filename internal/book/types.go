// Package book implements the per-symbol Level-2 limit order book
// engine (spec §4.B): a cache-friendly fixed-depth array for top of
// book, a Range-of-Interest dense vector for the hot price band around
// the market, and a sparse map for outlier levels, kept mutually
// consistent on every update.
package book

import (
	"github.com/shrivenq/tradecore/pkg/num"
)

// Side identifies which side of the book an update touches.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

// CrossPolicy controls how a crossed book (bid_best >= ask_best) is handled.
type CrossPolicy int

const (
	// CrossReject rejects the update that would cross the book.
	CrossReject CrossPolicy = iota
	// CrossAutoResolve clears the conflicting levels and recomputes BBO.
	CrossAutoResolve
	// CrossTrustNewest leaves the crossed book as-is.
	CrossTrustNewest
)

// FixedDepth is the size of the cache-friendly top-of-book array per side.
const FixedDepth = 32

// L2Update is a single price-level change, per GLOSSARY.
type L2Update struct {
	Side  Side
	Price num.Price
	Qty   num.Qty
	Level int
	Ts    num.Timestamp
}

// PriceLevel is a materialized (price, qty, ts) level used in snapshots.
type PriceLevel struct {
	Price num.Price
	Qty   num.Qty
	Ts    num.Timestamp
}

// BookSnapshot is a read-mostly point-in-time copy of BBO and depth,
// safe to hand to readers without holding the writer's lock for the
// duration of their work (spec §5 "read-mostly snapshot").
type BookSnapshot struct {
	Symbol   num.Symbol
	Sequence uint64
	Ts       num.Timestamp
	BidBest  PriceLevel
	AskBest  PriceLevel
	Bids     []PriceLevel
	Asks     []PriceLevel
}
