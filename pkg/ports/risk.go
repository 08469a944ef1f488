package ports

import (
	"context"

	"github.com/shrivenq/tradecore/pkg/num"
)

// RiskVerdict is the outcome of a pre-trade risk check, per spec §6.
type RiskVerdict int

const (
	RiskAccept RiskVerdict = iota
	RiskRequiresApproval
	RiskReject
)

// RiskDecision carries the verdict and, for non-accept verdicts, a reason.
type RiskDecision struct {
	Verdict RiskVerdict
	Reason  string
}

// RiskManager is the external collaborator consulted before every
// order submission (spec §4.G step 1). tradecore never implements the
// actual risk-decision logic; it only defines and consumes this
// contract — internal/router's tests carry their own in-memory double.
type RiskManager interface {
	Check(ctx context.Context, symbol num.Symbol, side Side, qty, price num.Qty) (RiskDecision, error)
}
