package ota

import (
	"errors"
	"fmt"
)

// Kind classifies why an update session ended without rebooting into a
// new image.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidRequest
	TransientTransferError
	TransferExhausted
	IntegrityMismatch
	CommitFailure
	PersistenceFailure
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "InvalidRequest"
	case TransientTransferError:
		return "TransientTransferError"
	case TransferExhausted:
		return "TransferExhausted"
	case IntegrityMismatch:
		return "IntegrityMismatch"
	case CommitFailure:
		return "CommitFailure"
	case PersistenceFailure:
		return "PersistenceFailure"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Restarts reports whether a session failing with this kind publishes a
// failure report and ends in a graceful restart. Malformed requests and
// cancelled sessions do neither.
func (k Kind) Restarts() bool {
	switch k {
	case InvalidRequest, Cancelled:
		return false
	default:
		return true
	}
}

// UpdateError is the error returned by an update session.
type UpdateError struct {
	Kind  Kind
	Phase Phase
	Err   error
}

func (e *UpdateError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	if e.Phase == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Is matches another *UpdateError of the same kind, so the sentinels below
// work with errors.Is.
func (e *UpdateError) Is(target error) bool {
	t, ok := target.(*UpdateError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidRequest         = &UpdateError{Kind: InvalidRequest}
	ErrTransientTransferError = &UpdateError{Kind: TransientTransferError}
	ErrTransferExhausted      = &UpdateError{Kind: TransferExhausted}
	ErrIntegrityMismatch      = &UpdateError{Kind: IntegrityMismatch}
	ErrCommitFailure          = &UpdateError{Kind: CommitFailure}
	ErrPersistenceFailure     = &UpdateError{Kind: PersistenceFailure}
	ErrCancelled              = &UpdateError{Kind: Cancelled}
)

func newError(kind Kind, phase Phase, err error) *UpdateError {
	return &UpdateError{Kind: kind, Phase: phase, Err: err}
}

func invalidf(format string, args ...any) *UpdateError {
	return newError(InvalidRequest, PhaseIdle, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *UpdateError in err's chain.
func KindOf(err error) Kind {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindUnknown
}
