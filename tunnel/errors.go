package tunnel

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yllada/vpn-client/common"
)

// TPMErrorKind identifies which OS profile operation failed.
type TPMErrorKind int

const (
	// FailedConfigLoadSave means loading or saving the profile failed.
	FailedConfigLoadSave TPMErrorKind = iota
	// FailedRemovingConfigs means one or more stale profiles could not be
	// removed.
	FailedRemovingConfigs
)

// String returns a human-readable representation of the kind.
func (k TPMErrorKind) String() string {
	switch k {
	case FailedConfigLoadSave:
		return "failedConfigLoadSave"
	case FailedRemovingConfigs:
		return "failedRemovingConfigs"
	default:
		return "unknown"
	}
}

// TPMError is a failure of the tunnel provider manager's OS operations.
type TPMError struct {
	Kind TPMErrorKind
	// Errs holds one error for load/save failures and one per profile for
	// removal failures.
	Errs []error
}

// NewConfigLoadSaveError wraps a load or save failure.
func NewConfigLoadSaveError(err error) *TPMError {
	return &TPMError{Kind: FailedConfigLoadSave, Errs: []error{err}}
}

// NewRemovingConfigsError aggregates removal failures.
func NewRemovingConfigsError(errs []error) *TPMError {
	return &TPMError{Kind: FailedRemovingConfigs, Errs: errs}
}

func (e *TPMError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(msgs, "; "))
}

// Unwrap exposes the OS errors to errors.Is and errors.As.
func (e *TPMError) Unwrap() []error {
	return e.Errs
}

// ErrorEvent is an error paired with the time it was observed.
type ErrorEvent struct {
	ID   string
	Err  error
	Date time.Time
}

// NewErrorEvent stamps err with date and a fresh ID.
func NewErrorEvent(err error, date time.Time) ErrorEvent {
	return ErrorEvent{
		ID:   common.GenerateID(),
		Err:  err,
		Date: date,
	}
}

func (e ErrorEvent) Error() string {
	if e.Err == nil {
		return e.Date.Format(time.RFC3339) + ": <nil>"
	}
	return e.Date.Format(time.RFC3339) + ": " + e.Err.Error()
}

func (e ErrorEvent) Unwrap() error {
	return e.Err
}

// TPMError returns the carried TPMError, if the event wraps one.
func (e ErrorEvent) TPMError() (*TPMError, bool) {
	var tpm *TPMError
	if errors.As(e.Err, &tpm) {
		return tpm, true
	}
	return nil, false
}
