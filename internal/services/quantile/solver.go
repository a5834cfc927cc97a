package quantile

import (
	"context"
	"fmt"
	"math"

	"FinBand/internal/domain/models"
)

// Problem is one penalised quantile regression:
//
//	min (1/n) Σ ρ_q(y_i − b − x_i·w) + Alpha·‖w‖₁
//
// The intercept b is not penalised.
type Problem struct {
	X     [][]float64 // n rows, p features each
	Y     []float64
	Q     float64
	Alpha float64
}

// Solution holds coefficients on the original feature scale.
type Solution struct {
	Intercept  float64
	Coef       []float64
	Method     string
	Iterations int
}

// Solver fits one Problem. Implementations must be safe for concurrent use.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p Problem) (Solution, error)
}

const (
	SolverAuto    = "auto"
	SolverSimplex = "simplex"
	SolverMM      = "mm"
)

// DefaultSimplexMaxRows bounds the problems the auto solver sends to the
// dense simplex.
const DefaultSimplexMaxRows = 150

// SolverOptions tunes the solvers; zero values fall back to each solver's
// defaults.
type SolverOptions struct {
	// PivotTol is the simplex feasibility tolerance.
	PivotTol float64
	// MMTol is the relative objective change that stops MM.
	MMTol     float64
	MMMaxIter int
	MMStall   int
	// SimplexMaxRows overrides DefaultSimplexMaxRows for the auto solver.
	SimplexMaxRows int
}

// NewSolver resolves a solver by name.
func NewSolver(name string, opts SolverOptions) (Solver, error) {
	exact := &SimplexSolver{Tol: opts.PivotTol}
	approx := &MMSolver{Tol: opts.MMTol, MaxIter: opts.MMMaxIter, Stall: opts.MMStall}
	switch name {
	case SolverSimplex:
		return exact, nil
	case SolverMM:
		return approx, nil
	case "", SolverAuto:
		maxRows := opts.SimplexMaxRows
		if maxRows <= 0 {
			maxRows = DefaultSimplexMaxRows
		}
		return &AutoSolver{Exact: exact, Approx: approx, MaxRows: maxRows}, nil
	default:
		return nil, fmt.Errorf("%w: unknown solver %q", models.ErrInvalidParameter, name)
	}
}

// AutoSolver uses the exact LP for small problems and the MM approximation
// beyond MaxRows. Solution.Method names the solver that actually ran.
type AutoSolver struct {
	Exact   Solver
	Approx  Solver
	MaxRows int
}

func (s *AutoSolver) Name() string { return SolverAuto }

func (s *AutoSolver) Solve(ctx context.Context, p Problem) (Solution, error) {
	if len(p.Y) <= s.MaxRows {
		return s.Exact.Solve(ctx, p)
	}
	return s.Approx.Solve(ctx, p)
}

func (p Problem) validate() error {
	n := len(p.Y)
	if n == 0 {
		return fmt.Errorf("%w: empty training set", models.ErrInsufficientData)
	}
	if len(p.X) != n {
		return fmt.Errorf("%w: %d feature rows for %d targets", models.ErrInvalidParameter, len(p.X), n)
	}
	if p.Q <= 0 || p.Q >= 1 {
		return fmt.Errorf("%w: quantile %v outside (0,1)", models.ErrInvalidParameter, p.Q)
	}
	if p.Alpha < 0 || math.IsNaN(p.Alpha) {
		return fmt.Errorf("%w: alpha must be >= 0", models.ErrInvalidParameter)
	}
	width := p.width()
	for i, row := range p.X {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", models.ErrInvalidParameter, i, len(row), width)
		}
	}
	return nil
}

func (p Problem) width() int {
	if len(p.X) == 0 {
		return 0
	}
	return len(p.X[0])
}

// scaled is the problem on centred, unit-spread feature columns. Constant
// columns are collinear with the free intercept, so their optimal weight is
// zero and they are dropped.
type scaled struct {
	z       [][]float64 // n × k active columns
	active  []int       // original column index per active column
	mean    []float64
	spread  []float64
	penalty []float64 // per active column, on the Σρ scale (n·alpha/spread)
}

func standardize(p Problem) scaled {
	n, width := len(p.Y), p.width()
	out := scaled{mean: make([]float64, width), spread: make([]float64, width)}
	for j := 0; j < width; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += p.X[i][j]
		}
		m := sum / float64(n)
		var ss float64
		for i := 0; i < n; i++ {
			d := p.X[i][j] - m
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(n))
		out.mean[j], out.spread[j] = m, sd
		if sd <= 1e-12*math.Max(1, math.Abs(m)) {
			continue
		}
		out.active = append(out.active, j)
		out.penalty = append(out.penalty, float64(n)*p.Alpha/sd)
	}

	out.z = make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, len(out.active))
		for k, j := range out.active {
			row[k] = (p.X[i][j] - out.mean[j]) / out.spread[j]
		}
		out.z[i] = row
	}
	return out
}

// unscale maps (b̃, w̃) fitted on standardized columns back to the original
// feature scale.
func (s scaled) unscale(intercept float64, w []float64, width int) (float64, []float64) {
	coef := make([]float64, width)
	b := intercept
	for k, j := range s.active {
		coef[j] = w[k] / s.spread[j]
		b -= coef[j] * s.mean[j]
	}
	return b, coef
}

// Objective evaluates (1/n)Σρ_q + alpha·‖w‖₁ for a fitted solution.
func Objective(p Problem, sol Solution) float64 {
	var loss float64
	for i, row := range p.X {
		loss += PinballLoss(p.Q, p.Y[i], predict(sol.Intercept, sol.Coef, row))
	}
	var l1 float64
	for _, w := range sol.Coef {
		l1 += math.Abs(w)
	}
	return loss/float64(len(p.Y)) + p.Alpha*l1
}

func predict(intercept float64, coef, x []float64) float64 {
	v := intercept
	for j, w := range coef {
		v += w * x[j]
	}
	return v
}
