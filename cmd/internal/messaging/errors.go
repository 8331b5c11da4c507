package messaging

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrNotAuthorized    = errors.New("not a participant of this conversation")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrStore            = errors.New("store unavailable")
	ErrTimeout          = errors.New("store timeout")
	ErrNotification     = errors.New("notification failed")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel kinds above; Err is the underlying cause, if any.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op string, kind error) error {
	return OpError{Op: op, Kind: kind}
}

// storeErr classifies a failure returned by a store call.
// Kinds raised by the store itself pass through; deadlines become ErrTimeout.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotAuthorized, ErrNotFound, ErrInvalidInput} {
		if errors.Is(err, kind) {
			return OpError{Op: op, Kind: kind, Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OpError{Op: op, Kind: ErrTimeout, Err: err}
	}
	return OpError{Op: op, Kind: ErrStore, Err: err}
}

// Kind returns the sentinel kind carried by err, or nil when err is not a messaging error.
func Kind(err error) error {
	var oe OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	for _, kind := range []error{
		ErrNotAuthenticated, ErrSelfConversation, ErrEmptyMessage, ErrNotAuthorized,
		ErrInvalidInput, ErrNotFound, ErrTimeout, ErrStore, ErrNotification,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
