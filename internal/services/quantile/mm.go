package quantile

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var errNotConverged = errors.New("mm: did not converge")

// MMSolver approximates the quantile regression by majorize-minimize
// (Hunter & Lange, 2000): every iteration replaces |r| by a quadratic that
// touches it at the current residual, turning the problem into a weighted
// ridge system. It scales linearly in the number of rows.
type MMSolver struct {
	// Tol is the relative objective change that ends the iteration.
	Tol     float64
	MaxIter int
	// Stall ends the iteration once the best objective has not improved by
	// more than Tol for this many steps; the best iterate is returned.
	Stall int
	// Eps perturbs the absolute value near zero; scaled by the target spread.
	Eps float64
}

const (
	DefaultMMTolerance = 1e-6
	DefaultMMMaxIter   = 5000
	DefaultMMStall     = 50
)

func (s *MMSolver) Name() string { return SolverMM }

func (s *MMSolver) Solve(ctx context.Context, p Problem) (Solution, error) {
	if err := p.validate(); err != nil {
		return Solution{}, err
	}
	tol, maxIter, stall, eps := s.Tol, s.MaxIter, s.Stall, s.Eps
	if tol <= 0 {
		tol = DefaultMMTolerance
	}
	if maxIter <= 0 {
		maxIter = DefaultMMMaxIter
	}
	if stall <= 0 {
		stall = DefaultMMStall
	}
	if eps <= 0 {
		eps = 1e-6
	}

	sc := standardize(p)
	n, k := len(p.Y), len(sc.active)
	dim := k + 1

	epsR := eps * (1 + meanAbsDev(p.Y))
	beta, err := leastSquaresStart(sc.z, p.Y, p.Q)
	if err != nil {
		return Solution{}, err
	}

	obj := s.objective(sc, p, beta)
	best, bestBeta, bestIter := obj, append([]float64(nil), beta...), 0
	lhs := make([]float64, dim*dim)
	rhs := make([]float64, dim)
	row := make([]float64, dim)
	tilt := p.Q - 0.5

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return Solution{}, err
		}
		for i := range lhs {
			lhs[i] = 0
		}
		for i := range rhs {
			rhs[i] = 0
		}

		for i := 0; i < n; i++ {
			row[0] = 1
			copy(row[1:], sc.z[i])
			r := p.Y[i] - dot(beta, row)
			a := 1 / (2 * (epsR + math.Abs(r)))
			for u := 0; u < dim; u++ {
				rhs[u] += (a*p.Y[i] + tilt) * row[u]
				au := a * row[u]
				for v := u; v < dim; v++ {
					lhs[u*dim+v] += au * row[v]
				}
			}
		}
		for j := 0; j < k; j++ {
			lhs[(j+1)*dim+(j+1)] += sc.penalty[j] / (eps + math.Abs(beta[j+1]))
		}
		for u := 0; u < dim; u++ {
			for v := 0; v < u; v++ {
				lhs[u*dim+v] = lhs[v*dim+u]
			}
		}

		next, err := solveSPD(dim, lhs, rhs)
		if err != nil {
			return Solution{}, err
		}
		nextObj := s.objective(sc, p, next)
		beta = next
		if math.Abs(obj-nextObj) <= tol*(1+math.Abs(obj)) {
			if nextObj > best {
				beta = bestBeta
			}
			b, coef := sc.unscale(beta[0], beta[1:], p.width())
			return Solution{Intercept: b, Coef: coef, Method: SolverMM, Iterations: iter}, nil
		}
		obj = nextObj

		// the perturbed majorizer can make the exact objective wander by
		// tiny amounts near the optimum
		if best-nextObj > tol*(1+math.Abs(best)) {
			best, bestIter = nextObj, iter
			copy(bestBeta, beta)
		} else if nextObj < best {
			best = nextObj
			copy(bestBeta, beta)
		}
		if iter-bestIter >= stall {
			b, coef := sc.unscale(bestBeta[0], bestBeta[1:], p.width())
			return Solution{Intercept: b, Coef: coef, Method: SolverMM, Iterations: iter}, nil
		}
	}
	return Solution{}, fmt.Errorf("%w after %d iterations", errNotConverged, maxIter)
}

// objective is Σρ + Σλ|w̃| on the standardized problem.
func (s *MMSolver) objective(sc scaled, p Problem, beta []float64) float64 {
	var f float64
	for i, z := range sc.z {
		pred := beta[0]
		for j, v := range z {
			pred += beta[j+1] * v
		}
		f += PinballLoss(p.Q, p.Y[i], pred)
	}
	for j, lam := range sc.penalty {
		f += lam * math.Abs(beta[j+1])
	}
	return f
}

// leastSquaresStart gives MM a non-zero starting slope (zero is a fixed
// point of the L1 majorizer) with the intercept moved to the q-quantile of
// the residuals.
func leastSquaresStart(z [][]float64, y []float64, q float64) ([]float64, error) {
	k := 0
	if len(z) > 0 {
		k = len(z[0])
	}
	beta := make([]float64, k+1)
	if k > 0 {
		dim := k
		lhs := make([]float64, dim*dim)
		rhs := make([]float64, dim)
		my := mean(y)
		for i, row := range z {
			for u := 0; u < dim; u++ {
				rhs[u] += row[u] * (y[i] - my)
				for v := 0; v < dim; v++ {
					lhs[u*dim+v] += row[u] * row[v]
				}
			}
		}
		w, err := solveSPD(dim, lhs, rhs)
		if err != nil {
			return nil, err
		}
		copy(beta[1:], w)
	}
	resid := make([]float64, len(y))
	for i := range y {
		resid[i] = y[i]
		for j := 0; j < k; j++ {
			resid[i] -= beta[j+1] * z[i][j]
		}
	}
	beta[0] = EmpiricalQuantile(resid, q)
	return beta, nil
}

// solveSPD solves a symmetric positive (semi)definite system, adding a
// growing diagonal jitter when the Cholesky factorization fails.
func solveSPD(dim int, a, b []float64) ([]float64, error) {
	var trace float64
	for i := 0; i < dim; i++ {
		trace += a[i*dim+i]
	}
	jitter := 0.0
	base := 1e-12 * math.Max(trace/float64(dim), 1)
	for attempt := 0; attempt < 6; attempt++ {
		data := make([]float64, len(a))
		copy(data, a)
		for i := 0; i < dim; i++ {
			data[i*dim+i] += jitter
		}
		var chol mat.Cholesky
		if chol.Factorize(mat.NewSymDense(dim, data)) {
			var x mat.VecDense
			if err := chol.SolveVecTo(&x, mat.NewVecDense(dim, append([]float64(nil), b...))); err == nil {
				out := make([]float64, dim)
				for i := range out {
					out[i] = x.AtVec(i)
				}
				return out, nil
			}
		}
		if jitter == 0 {
			jitter = base
		} else {
			jitter *= 100
		}
	}
	return nil, errors.New("mm: normal equations are singular")
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func meanAbsDev(v []float64) float64 {
	m := mean(v)
	var s float64
	for _, x := range v {
		s += math.Abs(x - m)
	}
	if len(v) == 0 {
		return 0
	}
	return s / float64(len(v))
}
