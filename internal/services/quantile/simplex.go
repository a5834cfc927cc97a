package quantile

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// SimplexSolver solves the quantile regression exactly as a linear program
// in standard form:
//
//	min  q·Σu + (1−q)·Σv + Σ λ_k (w⁺_k + w⁻_k)
//	s.t. Z(w⁺ − w⁻) + (b⁺ − b⁻) + u − v = y,   all variables ≥ 0
//
// where u, v are the positive and negative residual parts. The constraint
// matrix is dense, so cost grows quickly with the number of rows.
type SimplexSolver struct {
	Tol float64
}

func (s *SimplexSolver) Name() string { return SolverSimplex }

func (s *SimplexSolver) Solve(ctx context.Context, p Problem) (sol Solution, err error) {
	if err := p.validate(); err != nil {
		return Solution{}, err
	}
	if err := ctx.Err(); err != nil {
		return Solution{}, err
	}

	sc := standardize(p)
	n, k := len(p.Y), len(sc.active)

	// column layout: w⁺[k] w⁻[k] b⁺ b⁻ u[n] v[n]
	wPos, wNeg := 0, k
	bPos, bNeg := 2*k, 2*k+1
	uOff, vOff := 2*k+2, 2*k+2+n
	cols := 2*k + 2 + 2*n

	c := make([]float64, cols)
	for j := 0; j < k; j++ {
		c[wPos+j] = sc.penalty[j]
		c[wNeg+j] = sc.penalty[j]
	}
	for i := 0; i < n; i++ {
		c[uOff+i] = p.Q
		c[vOff+i] = 1 - p.Q
	}

	A := mat.NewDense(n, cols, nil)
	basis := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			A.Set(i, wPos+j, sc.z[i][j])
			A.Set(i, wNeg+j, -sc.z[i][j])
		}
		A.Set(i, bPos, 1)
		A.Set(i, bNeg, -1)
		A.Set(i, uOff+i, 1)
		A.Set(i, vOff+i, -1)
		// residual columns give an immediately feasible diagonal basis
		if p.Y[i] >= 0 {
			basis[i] = uOff + i
		} else {
			basis[i] = vOff + i
		}
	}

	tol := s.Tol
	if tol <= 0 {
		tol = 1e-10
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simplex: %v", r)
		}
	}()
	_, x, lpErr := lp.Simplex(c, A, p.Y, tol, basis)
	if lpErr != nil {
		return Solution{}, fmt.Errorf("simplex: %w", lpErr)
	}

	w := make([]float64, k)
	for j := 0; j < k; j++ {
		w[j] = x[wPos+j] - x[wNeg+j]
	}
	b, coef := sc.unscale(x[bPos]-x[bNeg], w, p.width())
	return Solution{Intercept: b, Coef: coef, Method: SolverSimplex}, nil
}
