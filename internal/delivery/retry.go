// Package delivery implements the outbound engine that turns one model reply
// into one or more human-paced provider messages. This file holds the
// reusable retry policy shared by the send path; backoff, attempt cap, and
// the retryable predicate are parameterized per call site instead of ad hoc
// sleep loops.
package delivery

import (
	"context"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns the wait before the next attempt; attempt counts from 1.
	Backoff func(attempt int, err error) time.Duration
	// Retryable reports whether the error is worth another attempt. A nil
	// predicate retries everything.
	Retryable func(err error) bool
	// Sleep waits between attempts; defaults to a context-aware timer.
	// Injected in tests to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op under the policy. The context bounds the whole loop including
// backoff waits; each attempt should derive its own per-attempt timeout
// inside op.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt, err)
		}
		if wait > 0 {
			sleep := p.Sleep
			if sleep == nil {
				sleep = sleepCtx
			}
			if serr := sleep(ctx, wait); serr != nil {
				return serr
			}
		}
	}
	return err
}
