package models

// OutcomeState tags an Outcome.
type OutcomeState int

const (
	Absent OutcomeState = iota
	Present
	Failed
)

func (s OutcomeState) String() string {
	switch s {
	case Present:
		return "present"
	case Failed:
		return "failed"
	default:
		return "absent"
	}
}

// Outcome is the result of an optional enrichment step: a value, nothing, or
// a failure. Consumers treat Failed like Absent after logging Err.
type Outcome[T any] struct {
	State OutcomeState
	Value *T
	Err   error
}

// PresentOf wraps a value. A nil value yields Absent.
func PresentOf[T any](v *T) Outcome[T] {
	if v == nil {
		return Outcome[T]{State: Absent}
	}
	return Outcome[T]{State: Present, Value: v}
}

// AbsentOf returns an empty Outcome.
func AbsentOf[T any]() Outcome[T] {
	return Outcome[T]{State: Absent}
}

// FailedOf records a failure.
func FailedOf[T any](err error) Outcome[T] {
	return Outcome[T]{State: Failed, Err: err}
}

// OutcomeFrom converts a (value, error) pair from a collaborator.
func OutcomeFrom[T any](v *T, err error) Outcome[T] {
	if err != nil {
		return FailedOf[T](err)
	}
	return PresentOf(v)
}

// Get returns the value when present.
func (o Outcome[T]) Get() (*T, bool) {
	if o.State == Present && o.Value != nil {
		return o.Value, true
	}
	return nil, false
}
