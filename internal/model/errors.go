package model

import (
	"errors"
	"fmt"
)

// Errors are local to one instrument and one check; none of them abort a cycle.
var (
	// ErrInsufficientHistory: too few samples for a cold indicator recompute.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInsufficientTrainingData: too few rows to fit a forecast.
	ErrInsufficientTrainingData = errors.New("insufficient training data")

	// ErrUpstreamUnavailable: an external collaborator failed or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidSample: malformed or out-of-order tick.
	ErrInvalidSample = errors.New("invalid sample")
)

// upstreamError keeps the cause while matching ErrUpstreamUnavailable.
type upstreamError struct {
	op  string
	err error
}

func (e *upstreamError) Error() string { return e.op + ": upstream unavailable: " + e.err.Error() }

func (e *upstreamError) Unwrap() []error { return []error{ErrUpstreamUnavailable, e.err} }

// Upstream wraps a collaborator failure. Returns nil for a nil err.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &upstreamError{op: op, err: err}
}

// ErrorKind returns a short label for metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrInsufficientTrainingData):
		return "insufficient_training_data"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrInvalidSample):
		return "invalid_sample"
	default:
		return "other"
	}
}
