package quantile

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinBand/internal/domain/models"
)

func randomProblem(n int, q, alpha float64, seed int64) Problem {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		a, b, c := rng.NormFloat64(), 10*rng.Float64(), 1000+50*rng.NormFloat64()
		x[i] = []float64{a, b, c}
		y[i] = 3 + 2*a - 0.5*b + 0.01*c + rng.NormFloat64()
	}
	return Problem{X: x, Y: y, Q: q, Alpha: alpha}
}

func solvers() map[string]Solver {
	return map[string]Solver{
		SolverSimplex: &SimplexSolver{},
		SolverMM:      &MMSolver{Tol: 1e-9, MaxIter: 2000},
	}
}

func TestInterceptOnlyIsEmpiricalQuantile(t *testing.T) {
	y := []float64{4, 1, 9, 7, 3, 8, 2, 6, 5}
	x := make([][]float64, len(y))
	for i := range x {
		x[i] = []float64{}
	}
	for name, s := range solvers() {
		t.Run(name, func(t *testing.T) {
			sol, err := s.Solve(context.Background(), Problem{X: x, Y: y, Q: 0.5, Alpha: 0.01})
			require.NoError(t, err)
			assert.InDelta(t, 5.0, sol.Intercept, 1e-3)
			assert.Empty(t, sol.Coef)
		})
	}
}

func TestConstantTargetConverges(t *testing.T) {
	n := 25
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{101, 42, 7}
		y[i] = 100
	}
	for name, s := range solvers() {
		for _, q := range []float64{0.05, 0.5, 0.95} {
			sol, err := s.Solve(context.Background(), Problem{X: x, Y: y, Q: q, Alpha: 0.01})
			require.NoError(t, err, name)
			assert.InDelta(t, 100, predict(sol.Intercept, sol.Coef, x[0]), 1e-4, "%s q=%v", name, q)
			for _, w := range sol.Coef {
				assert.Zero(t, w, name)
			}
		}
	}
}

func TestRecoversExactLinearRelation(t *testing.T) {
	n := 12
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		v := float64(i + 1)
		x[i] = []float64{v}
		y[i] = 2*v + 1
	}
	for name, s := range solvers() {
		sol, err := s.Solve(context.Background(), Problem{X: x, Y: y, Q: 0.5})
		require.NoError(t, err, name)
		require.Len(t, sol.Coef, 1)
		assert.InDelta(t, 2.0, sol.Coef[0], 1e-3, name)
		assert.InDelta(t, 1.0, sol.Intercept, 1e-2, name)
	}
}

func TestMMMatchesSimplexObjective(t *testing.T) {
	for _, q := range []float64{0.05, 0.5, 0.85} {
		p := randomProblem(60, q, 0.01, 11)

		exact, err := (&SimplexSolver{}).Solve(context.Background(), p)
		require.NoError(t, err)
		approx, err := (&MMSolver{Tol: 1e-9, MaxIter: 2000}).Solve(context.Background(), p)
		require.NoError(t, err)

		fExact := Objective(p, exact)
		fApprox := Objective(p, approx)
		assert.GreaterOrEqual(t, fApprox, fExact-1e-6, "q=%v", q)
		assert.InDelta(t, fExact, fApprox, 5e-3*(1+fExact), "q=%v", q)

		// never worse than the best constant
		baseline := EmpiricalQuantile(p.Y, q)
		assert.LessOrEqual(t, fExact, Objective(p, Solution{Intercept: baseline, Coef: make([]float64, 3)})+1e-9)
	}
}

func TestPenaltyShrinksCoefficients(t *testing.T) {
	loose := randomProblem(50, 0.5, 0, 5)
	tight := loose
	tight.Alpha = 10

	a, err := (&SimplexSolver{}).Solve(context.Background(), loose)
	require.NoError(t, err)
	b, err := (&SimplexSolver{}).Solve(context.Background(), tight)
	require.NoError(t, err)

	l1 := func(w []float64) (s float64) {
		for _, v := range w {
			if v < 0 {
				v = -v
			}
			s += v
		}
		return
	}
	assert.Less(t, l1(b.Coef), l1(a.Coef))
}

func TestSolverValidation(t *testing.T) {
	s := &SimplexSolver{}
	_, err := s.Solve(context.Background(), Problem{})
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	_, err = s.Solve(context.Background(), Problem{X: [][]float64{{1}}, Y: []float64{1}, Q: 1})
	assert.ErrorIs(t, err, models.ErrInvalidParameter)

	_, err = s.Solve(context.Background(), Problem{X: [][]float64{{1}, {1, 2}}, Y: []float64{1, 2}, Q: 0.5})
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestMMHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&MMSolver{}).Solve(ctx, randomProblem(30, 0.5, 0.01, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSolver(t *testing.T) {
	s, err := NewSolver("", SolverOptions{})
	require.NoError(t, err)
	assert.Equal(t, SolverAuto, s.Name())

	_, err = NewSolver("gradient", SolverOptions{})
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestAutoSolverRoutesBySize(t *testing.T) {
	auto := &AutoSolver{Exact: &SimplexSolver{}, Approx: &MMSolver{Tol: 1e-9, MaxIter: 2000}, MaxRows: 40}

	small, err := auto.Solve(context.Background(), randomProblem(30, 0.5, 0.01, 2))
	require.NoError(t, err)
	assert.Equal(t, SolverSimplex, small.Method)

	large, err := auto.Solve(context.Background(), randomProblem(80, 0.5, 0.01, 2))
	require.NoError(t, err)
	assert.Equal(t, SolverMM, large.Method)
}

func TestPinballLoss(t *testing.T) {
	assert.InDelta(t, 0.9, PinballLoss(0.9, 11, 10), 1e-12)
	assert.InDelta(t, 0.1, PinballLoss(0.9, 9, 10), 1e-12)
	assert.Zero(t, PinballLoss(0.3, 5, 5))
	assert.InDelta(t, 0.5, MeanPinballLoss(0.5, []float64{1, 3}, []float64{2, 2}), 1e-12)
	assert.Equal(t, 3.0, EmpiricalQuantile([]float64{5, 1, 3, 2, 4}, 0.5))
}
