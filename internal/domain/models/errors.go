package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingColumn      = errors.New("missing column")
	ErrEmptySeries        = errors.New("empty series")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrNoFeasibleSolution = errors.New("no feasible solution")
	ErrInvalidParameter   = errors.New("invalid parameter")
)

// MissingColumnError lists every required column absent from the input.
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing column(s): %s", strings.Join(e.Columns, ", "))
}

func (e *MissingColumnError) Is(target error) bool { return target == ErrMissingColumn }

// EmptySeriesError means no row survived undefined-value filtering and
// target construction.
type EmptySeriesError struct {
	Rows    int // input rows
	Dropped int // rows removed for undefined values
}

func (e *EmptySeriesError) Error() string {
	return fmt.Sprintf("empty series: %d input rows, %d dropped for undefined values", e.Rows, e.Dropped)
}

func (e *EmptySeriesError) Is(target error) bool { return target == ErrEmptySeries }

// InsufficientDataError is returned when a run needs more observations.
type InsufficientDataError struct {
	Op   string
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: need %d, have %d", e.Op, e.Need, e.Have)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// NoFeasibleSolutionError reports a solver failure for one quantile level.
type NoFeasibleSolutionError struct {
	Level QuantileLevel
	Err   error
}

func (e *NoFeasibleSolutionError) Error() string {
	return fmt.Sprintf("no feasible solution for level %s: %v", e.Level, e.Err)
}

func (e *NoFeasibleSolutionError) Is(target error) bool { return target == ErrNoFeasibleSolution }

func (e *NoFeasibleSolutionError) Unwrap() error { return e.Err }

// IsInputError reports whether err was caused by the caller's data or
// parameters rather than an infrastructure fault.
func IsInputError(err error) bool {
	return errors.Is(err, ErrMissingColumn) ||
		errors.Is(err, ErrEmptySeries) ||
		errors.Is(err, ErrInvalidParameter)
}
