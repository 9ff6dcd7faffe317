// Package testutil provides helpers for tests that wait on asynchronous
// work: event loop callbacks, timers, and collector-driven cleanups.
package testutil

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Default polling parameters for conditions driven by the event loop.
const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 10 * time.Millisecond
)

// Poll repeatedly checks a condition until it becomes true or timeout expires.
// Returns an error if timeout expires before condition becomes true.
func Poll(ctx context.Context, condition func() bool, timeout time.Duration, interval time.Duration) error {
	start := time.Now()
	for {
		if condition() {
			return nil
		}

		if time.Since(start) >= timeout {
			return fmt.Errorf("timeout waiting for condition (threshold: %v)", timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// WaitForState waits until the getter returns a value that satisfies the
// predicate, or timeout expires.
//
// Example usage:
//
//	n, err := WaitForState(ctx, fired.Load,
//		func(n int32) bool { return n == 1 },
//		5*time.Second,
//		10*time.Millisecond)
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout time.Duration, interval time.Duration) (T, error) {
	start := time.Now()
	for {
		state := getter()

		if predicate(state) {
			return state, nil
		}

		if time.Since(start) >= timeout {
			var zero T
			return zero, fmt.Errorf("timeout waiting for target state (type %T, threshold: %v)", *new(T), timeout)
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// CollectUntil forces garbage collection, running pump between cycles, until
// condition holds. Cleanups registered with runtime.AddCleanup run on their
// own goroutine after a cycle, so a single runtime.GC is never enough.
func CollectUntil(ctx context.Context, pump func(), condition func() bool) error {
	return Poll(ctx, func() bool {
		runtime.GC()
		if pump != nil {
			pump()
		}
		return condition()
	}, DefaultTimeout, DefaultInterval)
}
