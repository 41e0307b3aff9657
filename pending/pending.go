// Package pending provides a value container for results that are
// fetched asynchronously and may be refreshed: receipts, product lists,
// wallet balances.
package pending

import "fmt"

// Phase is the lifecycle stage of a Pending value.
type Phase int

const (
	// NotStarted means no request has been issued yet.
	NotStarted Phase = iota
	// InProgress means a request is outstanding. The previous successful
	// value, if any, is still readable.
	InProgress
	// Completed means the last request finished with a value or an error.
	Completed
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "NotStarted"
	case InProgress:
		return "InProgress"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Pending holds the state of an asynchronous request for a T.
// The zero value is NotStarted.
type Pending[T any] struct {
	phase    Phase
	value    T
	hasValue bool
	err      error
}

// Phase returns the current phase.
func (p *Pending[T]) Phase() Phase {
	return p.phase
}

// Start moves to InProgress. It returns false, leaving the state
// untouched, when a request is already in progress; callers must not
// issue a second request in that case.
func (p *Pending[T]) Start() bool {
	if p.phase == InProgress {
		return false
	}
	p.phase = InProgress
	p.err = nil
	return true
}

// Complete records a successful result.
func (p *Pending[T]) Complete(v T) {
	p.phase = Completed
	p.value = v
	p.hasValue = true
	p.err = nil
}

// Fail records a failed result. The previous successful value is dropped
// so readers cannot mistake stale data for the outcome of this request.
func (p *Pending[T]) Fail(err error) {
	var zero T
	p.phase = Completed
	p.value = zero
	p.hasValue = false
	p.err = err
}

// Value returns the last successful value. While InProgress this is the
// value from the previous request, if it succeeded.
func (p *Pending[T]) Value() (T, bool) {
	return p.value, p.hasValue
}

// Err returns the error of the last completed request.
func (p *Pending[T]) Err() error {
	if p.phase != Completed {
		return nil
	}
	return p.err
}

// String describes the state for logs.
func (p *Pending[T]) String() string {
	switch {
	case p.phase == Completed && p.err != nil:
		return fmt.Sprintf("Completed(error: %v)", p.err)
	case p.hasValue:
		return fmt.Sprintf("%s(%v)", p.phase, p.value)
	default:
		return p.phase.String()
	}
}
