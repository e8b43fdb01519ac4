// Package errors defines the failure taxonomy shared by the analysis pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Failure kinds. Every StageError matches exactly one of these via errors.Is.
var (
	ErrFetch       = errors.New("fetch failure")
	ErrEnrichment  = errors.New("enrichment failure")
	ErrPersistence = errors.New("persistence failure")
	ErrInference   = errors.New("inference failure")
	ErrDispatch    = errors.New("dispatch failure")
)

// Collaborator sentinels.
var (
	ErrNotSupported  = errors.New("operation not supported by source")
	ErrNoData        = errors.New("no data returned")
	ErrNoProvider    = errors.New("no LLM provider configured")
	ErrConfigInvalid = errors.New("invalid configuration")
)

// StageError records which pipeline stage failed for which symbol.
type StageError struct {
	Kind   error
	Symbol string
	Op     string
	Err    error
}

func (e *StageError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%v [%s] %s: %v", e.Kind, e.Symbol, e.Op, e.Err)
	}
	return fmt.Sprintf("%v %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind sentinel of this error.
func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

// NewFetchError creates a StageError of kind ErrFetch.
func NewFetchError(symbol, op string, err error) *StageError {
	return &StageError{Kind: ErrFetch, Symbol: symbol, Op: op, Err: err}
}

// NewEnrichmentError creates a StageError of kind ErrEnrichment.
func NewEnrichmentError(symbol, op string, err error) *StageError {
	return &StageError{Kind: ErrEnrichment, Symbol: symbol, Op: op, Err: err}
}

// NewPersistenceError creates a StageError of kind ErrPersistence.
func NewPersistenceError(symbol, op string, err error) *StageError {
	return &StageError{Kind: ErrPersistence, Symbol: symbol, Op: op, Err: err}
}

// NewInferenceError creates a StageError of kind ErrInference.
func NewInferenceError(symbol, op string, err error) *StageError {
	return &StageError{Kind: ErrInference, Symbol: symbol, Op: op, Err: err}
}

// NewDispatchError creates a StageError of kind ErrDispatch. The channel id
// goes in Op.
func NewDispatchError(channel string, err error) *StageError {
	return &StageError{Kind: ErrDispatch, Op: channel, Err: err}
}

// KindOf returns a short label for the failure kind of err, or "unknown".
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrEnrichment):
		return "enrichment"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrInference):
		return "inference"
	case errors.Is(err, ErrDispatch):
		return "dispatch"
	default:
		return "unknown"
	}
}
