package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// defNumAttempts is the default number of retry attempts.
const defNumAttempts = 3

var (
	// maxAllowedWaitTime is the maximum time to wait for a transient error.
	maxAllowedWaitTime = 5 * time.Minute
	// waitFn returns the amount of time to wait before retrying depending on
	// the current attempt.  This variable exists to reduce the test time.
	waitFn = ExpWait

	mu sync.RWMutex
)

// ErrRetryFailed is returned if number of retry attempts exceeded the retry
// attempts limit and function wasn't able to complete without errors.
var ErrRetryFailed = errors.New("callback was unable to complete without errors within the allowed number of retries")

// StatusError is returned by the API caller when the endpoint responds with
// an unexpected HTTP status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

// Waiter is the interface of rate.Limiter that WithRetry needs.
type Waiter interface {
	Wait(ctx context.Context) error
}

// WithRetry runs the callback function fn.  If fn returns a recoverable
// error (a server-side HTTP status or a read/write network error), it
// delays and calls it again, up to maxAttempts times.  It returns
// ErrRetryFailed if it runs out of attempts.
func WithRetry(ctx context.Context, lim Waiter, maxAttempts int, fn func() error) error {
	var ok bool
	if maxAttempts == 0 {
		maxAttempts = defNumAttempts
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}

		cbErr := fn()
		if cbErr == nil {
			ok = true
			break
		}

		slog.DebugContext(ctx, "WithRetry", "error", cbErr, "attempt", attempt+1)
		var (
			se *StatusError
			ne *net.OpError
		)
		switch {
		case errors.As(cbErr, &se):
			if isRecoverable(se.Code) {
				// possibly transient error
				delay := wait(attempt)
				slog.DebugContext(ctx, "got server error, sleeping", "code", se.Code, "delay", delay)
				time.Sleep(delay)
				continue
			}
		case errors.As(cbErr, &ne):
			if ne.Op == "read" || ne.Op == "write" {
				// possibly transient error
				delay := wait(attempt)
				slog.DebugContext(ctx, "got network error, sleeping", "op", ne.Op, "delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		return fmt.Errorf("callback error: %w", cbErr)
	}
	if !ok {
		return ErrRetryFailed
	}
	return nil
}

// isRecoverable returns true if the status code is a recoverable error.
func isRecoverable(statusCode int) bool {
	return (statusCode >= http.StatusInternalServerError && statusCode <= 599 && statusCode != 501) || statusCode == 408
}

func wait(attempt int) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return waitFn(attempt)
}

// ExpWait returns the exponential wait time for the given attempt, capped at
// the maximum allowed wait time.
func ExpWait(attempt int) time.Duration {
	delay := time.Duration(2<<uint(attempt)) * time.Second
	if delay > maxAllowedWaitTime {
		return maxAllowedWaitTime
	}
	return delay
}

// CubicWait is the wait time function.  Time is calculated as (x+2)^3
// seconds, where x is the current attempt number.  The maximum wait time is
// capped at the maximum allowed wait time.
func CubicWait(attempt int) time.Duration {
	x := attempt + 2 // this is to ensure that we sleep at least 8 seconds.
	delay := time.Duration(x*x*x) * time.Second
	if delay > maxAllowedWaitTime {
		return maxAllowedWaitTime
	}
	return delay
}

// SetMaxAllowedWaitTime sets the maximum time to wait for a transient error.
func SetMaxAllowedWaitTime(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	maxAllowedWaitTime = d
}
