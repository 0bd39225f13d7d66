// Package resilience provides the retry, timeout, and error
// classification primitives the frame pipeline uses to degrade instead
// of crash: collaborator calls (detector, recognizer, storage) are
// wrapped with timeouts, retried at most once per frame when transient,
// and surfaced as that operation's failure rather than the stream's.
package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// TransientError wraps an error that is safe to retry (timeouts, broken
// connections, a model backend that is momentarily busy).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks an error as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient returns true if the error (or any error in its chain) is
// a TransientError, a deadline expiry, or a network-level failure.
// Deadline expiries are transient by definition here: the same call may
// well succeed on the next frame.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// WithTimeout runs fn under a deadline. A deadline expiry is returned
// as fn's failure (context.DeadlineExceeded in the chain); it is the
// caller's signal to drop that operation for the current frame, never
// to stop the stream.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		return tctx.Err()
	}
}
