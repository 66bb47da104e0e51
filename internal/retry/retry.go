// Package retry runs calls to external collaborators with a timeout per attempt
// and a small fixed budget of retries with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultBaseWait = 500 * time.Millisecond
)

// Policy controls how many times a call is attempted and how long each attempt may take.
type Policy struct {
	Attempts int           // total attempts, including the first
	BaseWait time.Duration // wait before the 2nd attempt; doubles afterwards
	Timeout  time.Duration // per-attempt timeout; 0 = only the parent ctx bounds it
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the budget is exhausted
// or ctx is done. The last error is returned wrapped.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseWait <= 0 {
		p.BaseWait = DefaultBaseWait
	}

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		err := call(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		var perm permanent
		if errors.As(err, &perm) {
			return fmt.Errorf("%s: %w", op, perm.err)
		}
		lastErr = err

		if attempt < p.Attempts-1 {
			slog.Debug("retrying", "op", op, "attempt", attempt+1, "err", err)
			sleep(ctx, p.BaseWait, attempt)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", op, p.Attempts, lastErr)
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

// sleep espera con backoff exponencial, respetando el contexto.
func sleep(ctx context.Context, base time.Duration, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * base
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
