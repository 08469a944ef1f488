// Package position tracks per-symbol positions and maintains a
// process-wide realized/unrealized PnL aggregate, per spec §4.D.
package position

import (
	"github.com/shrivenq/tradecore/pkg/num"
)

// Position is a per-symbol holding: signed quantity, volume-weighted
// average entry price (meaningful only while Qty != 0), realized PnL,
// and the last market mark seen.
type Position struct {
	Symbol num.Symbol

	Qty      num.Qty   // signed: long positive, short negative
	AvgPrice num.Price // defined only when Qty != 0

	Realized num.Amount

	LastBid, LastAsk, LastMid num.Price
	LastTrade                 num.Price
	LastMarkTs                num.Timestamp
	LastUpdateTs              num.Timestamp

	Fills    uint64
	Turnover num.Amount // sum of |qty*price| over all fills, informational
}

// Unrealized returns (mark-avg)*qty using mid as the mark, zero if no
// mark has been observed yet or the position is flat.
func (p Position) Unrealized() num.Amount {
	if p.Qty == num.Zero || p.LastMid == num.Zero {
		return num.Zero
	}
	return p.LastMid.Sub(p.AvgPrice).Mul(p.Qty)
}

// Snapshot is a read-only copy of a Position plus its derived PnL.
type Snapshot struct {
	Position
	Unrealized num.Amount
	Total      num.Amount
}

// GlobalPnL is the process-wide aggregate maintained by atomic adds on
// every per-symbol update and periodically corrected by the reconciler.
type GlobalPnL struct {
	Realized   num.Amount
	Unrealized num.Amount
	Total      num.Amount
}

func newSnapshot(p Position) Snapshot {
	u := p.Unrealized()
	return Snapshot{Position: p, Unrealized: u, Total: p.Realized.Add(u)}
}
