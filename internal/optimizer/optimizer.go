// Package optimizer computes target portfolio weights and rebalance
// changes from the position tracker's holdings, per spec §4.H. Four
// strategies are supported — equal weight, minimum variance, max
// Sharpe, and risk parity — each degrading to a simpler allocation
// when the market model it needs (covariance matrix, expected-return
// vector) is unavailable. Weights are basis points of gross exposure.
package optimizer

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
)

// Strategy selects the weight-targeting scheme.
type Strategy string

const (
	StrategyEqualWeight Strategy = "equal_weight"
	StrategyMinVariance Strategy = "min_variance"
	StrategyMaxSharpe   Strategy = "max_sharpe"
	StrategyRiskParity  Strategy = "risk_parity"
)

// TotalBP is the full gross exposure in basis points.
const TotalBP int64 = 10_000

// Holding is one (symbol, signed qty, realized pnl) input tuple.
type Holding struct {
	Symbol      num.Symbol
	SignedQty   num.Qty
	MarkPrice   num.Price
	RealizedPnL num.Amount
}

// Constraints bound the output weights, per spec §4.H.
type Constraints struct {
	MinPositionBP int64
	MaxPositionBP int64
	MaxPositions  int
	MaxLeverage   int64 // gross/net, in basis points; informational for callers sizing orders
}

// Model carries the optional market model. Cov is the covariance
// matrix Σ over the holdings in input order; Mu the expected-return
// vector. Either may be nil, in which case strategies degrade per
// spec §4.H.
type Model struct {
	Cov *mat.SymDense
	Mu  *mat.VecDense
}

// Change is one rebalance instruction, ordered by |QtyChange| descending.
type Change struct {
	Symbol      num.Symbol
	OldWeightBP int64
	NewWeightBP int64
	QtyChange   num.Qty
}

// Result is a strategy run's output.
type Result struct {
	Strategy Strategy
	Weights  map[num.Symbol]int64 // basis points of gross exposure
	Changes  []Change
}

// Optimize produces target weights for holdings under cons, then the
// rebalance changes implied by the difference from current exposure.
// Holdings with zero quantity are excluded before weighting; if
// cons.MaxPositions > 0, the holdings with the largest gross exposure
// are kept and the rest are dropped from the run: they get no entry in
// Weights and no Change, and current weights are computed over the
// kept holdings only.
func Optimize(strategy Strategy, holdings []Holding, model Model, cons Constraints) (Result, error) {
	active := make([]Holding, 0, len(holdings))
	for _, h := range holdings {
		if !h.SignedQty.IsZero() {
			active = append(active, h)
		}
	}
	if len(active) == 0 {
		return Result{Strategy: strategy, Weights: map[num.Symbol]int64{}}, nil
	}

	if cons.MaxPositions > 0 && len(active) > cons.MaxPositions {
		sort.SliceStable(active, func(i, j int) bool {
			return grossExposure(active[i]).GreaterThan(grossExposure(active[j]))
		})
		active = active[:cons.MaxPositions]
	}

	raw, err := rawWeights(strategy, active, model)
	if err != nil {
		return Result{}, err
	}

	weights := clipAndRenormalize(raw, cons)

	out := Result{Strategy: strategy, Weights: make(map[num.Symbol]int64, len(active))}
	current := currentWeights(active)
	for i, h := range active {
		out.Weights[h.Symbol] = weights[i]
	}
	for i, h := range active {
		oldW := current[i]
		newW := weights[i]
		if oldW == newW {
			continue
		}
		out.Changes = append(out.Changes, Change{
			Symbol:      h.Symbol,
			OldWeightBP: oldW,
			NewWeightBP: newW,
			QtyChange:   impliedQtyChange(h, oldW, newW, active),
		})
	}
	sort.SliceStable(out.Changes, func(i, j int) bool {
		return out.Changes[i].QtyChange.Abs().GreaterThan(out.Changes[j].QtyChange.Abs())
	})
	return out, nil
}

// rawWeights dispatches to the strategy, returning unconstrained
// basis-point weights summing to TotalBP.
func rawWeights(strategy Strategy, active []Holding, model Model) ([]int64, error) {
	switch strategy {
	case StrategyEqualWeight:
		return equalWeights(len(active)), nil
	case StrategyMinVariance:
		return minVarianceWeights(active, model), nil
	case StrategyMaxSharpe:
		return maxSharpeWeights(active, model), nil
	case StrategyRiskParity:
		return riskParityWeights(active, model), nil
	default:
		return nil, trerr.Newf(trerr.ErrValidation, "unknown optimizer strategy %q", strategy)
	}
}

func grossExposure(h Holding) num.Amount {
	return h.SignedQty.Abs().Mul(h.MarkPrice)
}

// currentWeights computes each holding's share of gross exposure in
// basis points, for the old-weight side of the rebalance output.
func currentWeights(active []Holding) []int64 {
	var total num.Amount
	for _, h := range active {
		total = total.Add(grossExposure(h))
	}
	out := make([]int64, len(active))
	if total.IsZero() {
		return out
	}
	for i, h := range active {
		out[i] = int64(grossExposure(h)) * TotalBP / int64(total)
	}
	return out
}

// impliedQtyChange converts a weight delta back into a quantity at the
// holding's mark price against total gross exposure.
func impliedQtyChange(h Holding, oldW, newW int64, active []Holding) num.Qty {
	if h.MarkPrice.IsZero() {
		return num.Zero
	}
	var total num.Amount
	for _, a := range active {
		total = total.Add(grossExposure(a))
	}
	deltaNotional := num.Fixed(int64(total) * (newW - oldW) / TotalBP)
	return deltaNotional.Div(h.MarkPrice)
}

// clipAndRenormalize enforces [MinPositionBP, MaxPositionBP] by
// clipping, then renormalizes to TotalBP, per spec §4.H "Constraints
// are enforced post-strategy by clip-and-renormalize". Renormalizing
// can push a weight past a bound again, so the pass repeats until
// stable (at most eight passes); the weights are then clipped once
// more and the residual rounding goes to the largest weight still
// below MaxPositionBP so the sum is exactly TotalBP.
func clipAndRenormalize(weights []int64, cons Constraints) []int64 {
	n := len(weights)
	if n == 0 {
		return weights
	}
	minBP, maxBP := cons.MinPositionBP, cons.MaxPositionBP
	if maxBP <= 0 || maxBP > TotalBP {
		maxBP = TotalBP
	}
	// Infeasible bounds degrade to no minimum rather than failing the run.
	if minBP*int64(n) > TotalBP {
		minBP = 0
	}

	out := make([]int64, n)
	copy(out, weights)
	for pass := 0; pass < 8; pass++ {
		var sum int64
		clipped := false
		for i := range out {
			if out[i] < minBP {
				out[i] = minBP
				clipped = true
			}
			if out[i] > maxBP {
				out[i] = maxBP
				clipped = true
			}
			sum += out[i]
		}
		if sum == 0 {
			return equalWeights(n)
		}
		if sum != TotalBP {
			for i := range out {
				out[i] = out[i] * TotalBP / sum
			}
		}
		if !clipped && sum == TotalBP {
			break
		}
	}

	var sum int64
	largest := 0
	for i := range out {
		if out[i] > maxBP {
			out[i] = maxBP
		}
		if out[i] < minBP {
			out[i] = minBP
		}
		sum += out[i]
		if out[i] < maxBP && (out[largest] >= maxBP || out[i] > out[largest]) {
			largest = i
		}
	}
	out[largest] += TotalBP - sum
	return out
}

func equalWeights(n int) []int64 {
	out := make([]int64, n)
	each := TotalBP / int64(n)
	for i := range out {
		out[i] = each
	}
	return out
}

// proportional converts positive scores to basis-point weights
// proportional to score, falling back to equal weight when the scores
// carry no information (all zero or non-finite).
func proportional(scores []float64) []int64 {
	var sum float64
	for _, s := range scores {
		if s > 0 {
			sum += s
		}
	}
	if sum <= 0 {
		return equalWeights(len(scores))
	}
	out := make([]int64, len(scores))
	for i, s := range scores {
		if s > 0 {
			out[i] = int64(s / sum * float64(TotalBP))
		}
	}
	return out
}
