package optimizer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minVarianceWeights allocates proportional to 1/diag(Σ) when the
// covariance matrix is available, degrading to equal weight when it
// isn't, per spec §4.H.
func minVarianceWeights(active []Holding, model Model) []int64 {
	n := len(active)
	if model.Cov == nil || model.Cov.SymmetricDim() != n {
		return equalWeights(n)
	}
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		v := model.Cov.At(i, i)
		if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
			scores[i] = 1 / v
		}
	}
	return proportional(scores)
}

// maxSharpeWeights allocates proportional to Σ⁻¹μ projected onto the
// long-only simplex when both μ and Σ are available. Without a full
// model it falls back to PnL-ranked weighting, per spec §4.H.
func maxSharpeWeights(active []Holding, model Model) []int64 {
	n := len(active)
	if model.Cov == nil || model.Mu == nil ||
		model.Cov.SymmetricDim() != n || model.Mu.Len() != n {
		return pnlRankedWeights(active)
	}

	var chol mat.Cholesky
	if !chol.Factorize(model.Cov) {
		// Singular Σ carries no usable risk structure.
		return pnlRankedWeights(active)
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, model.Mu); err != nil {
		return pnlRankedWeights(active)
	}

	// Long-only simplex projection: negative components drop to zero,
	// the rest normalize in proportional().
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		if v := w.AtVec(i); v > 0 {
			scores[i] = v
		}
	}
	return proportional(scores)
}

// pnlRankedWeights sorts holdings by realized PnL and allocates larger
// weights to better performers via a monotone rank mapping (rank 1 for
// the worst, n for the best; weight proportional to rank).
func pnlRankedWeights(active []Holding) []int64 {
	n := len(active)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return active[idx[a]].RealizedPnL.LessThan(active[idx[b]].RealizedPnL)
	})
	scores := make([]float64, n)
	for rank, i := range idx {
		scores[i] = float64(rank + 1)
	}
	return proportional(scores)
}

// riskParityWeights allocates proportional to 1/σᵢ; zero-σ assets get
// the minimum positive score so they remain in the portfolio but never
// dominate it. Without Σ, degrades to equal weight.
func riskParityWeights(active []Holding, model Model) []int64 {
	n := len(active)
	if model.Cov == nil || model.Cov.SymmetricDim() != n {
		return equalWeights(n)
	}
	sigmas := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if v := model.Cov.At(i, i); v > 0 {
			sigmas = append(sigmas, math.Sqrt(v))
		}
	}
	if len(sigmas) == 0 {
		return equalWeights(n)
	}
	var maxInv float64
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		if v := model.Cov.At(i, i); v > 0 {
			scores[i] = 1 / math.Sqrt(v)
			if scores[i] > maxInv {
				maxInv = scores[i]
			}
		}
	}
	minScore := maxInv / float64(TotalBP)
	for i := range scores {
		if scores[i] == 0 {
			scores[i] = minScore
		}
	}
	return proportional(scores)
}

// ModelFromReturns estimates Σ and μ from a per-asset return history,
// one row per observation and one column per holding in input order.
// Callers with fewer than two observations get an empty model and the
// strategies degrade accordingly.
func ModelFromReturns(returns [][]float64) Model {
	if len(returns) < 2 || len(returns[0]) == 0 {
		return Model{}
	}
	rows, cols := len(returns), len(returns[0])
	data := mat.NewDense(rows, cols, nil)
	for i, row := range returns {
		if len(row) != cols {
			return Model{}
		}
		data.SetRow(i, row)
	}

	cov := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(cov, data, nil)

	mu := mat.NewVecDense(cols, nil)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, data)
		mu.SetVec(j, stat.Mean(col, nil))
	}
	return Model{Cov: cov, Mu: mu}
}
