package pipeline

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
)

// #region constants
const maxRetries = 2 // max 2 retries = 3 total attempts

const baseBackoff = 5 * time.Millisecond

// #endregion

// #region engine
// RetryEngine decides whether a registry write that lost a race is retried.
// Only RegistryConflictError is retryable; every other error is final.
type RetryEngine struct {
	maxRetries int
	backoff    time.Duration
	sleep      func(time.Duration)
}

// NewRetryEngine creates a retry engine with the default budget.
func NewRetryEngine() *RetryEngine {
	return &RetryEngine{maxRetries: maxRetries, backoff: baseBackoff, sleep: time.Sleep}
}

// ShouldRetry reports whether another attempt is allowed after attempts
// failed attempts, the last of which returned err.
func (r *RetryEngine) ShouldRetry(err error, attempts int) bool {
	if err == nil || attempts > r.maxRetries {
		return false
	}
	var conflict *registry.RegistryConflictError
	return errors.As(err, &conflict)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. Backoff doubles per attempt.
func (r *RetryEngine) Do(fn func() error) error {
	wait := r.backoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if !r.ShouldRetry(err, attempt) {
			return err
		}
		r.sleep(wait)
		wait *= 2
	}
}

// #endregion
