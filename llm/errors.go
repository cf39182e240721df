package llm

import (
	"errors"
)

// Request failures fall into three classes, each handled differently:
// ErrBusy means the single-flight gate rejected the call before anything was
// sent, so there is nothing to retry; transient errors are retried with
// backoff and may roll over to the fallback endpoint; fatal errors abort the
// request outright, since a bad API key or malformed payload fails the same
// way on every attempt.

// ErrBusy is returned when a language request is rejected because another
// request is already in flight. Callers should surface it to the user
// rather than queue behind the active request.
var ErrBusy = errors.New("language service busy")

// TransientError marks a temporary failure (rate limit, server error,
// network timeout) that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks a permanent failure that no amount of retrying can
// recover.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
