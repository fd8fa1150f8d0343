// Package testutil provides polling helpers for tests that drive the
// scheduler on the wall clock.
package testutil

import (
	"context"
	"fmt"
	"time"
)

// Poll calls condition every interval until it returns true, timeout
// elapses, or ctx is done.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	_, err := WaitForState(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	return err
}

// WaitForState calls getter every interval until predicate accepts its
// result, which is returned. On timeout or cancellation the zero value is
// returned with an error.
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout, interval time.Duration) (T, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		if state := getter(); predicate(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-deadline.C:
			var zero T
			return zero, fmt.Errorf("timeout waiting for %T (threshold: %v)", zero, timeout)
		case <-tick.C:
		}
	}
}
