/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package poll provides a cancellable timed-retry loop for upstreams that
// report completion by polling.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the deadline passes before the condition holds.
var ErrTimeout = errors.New("poll deadline exceeded")

// Func checks the condition once. It returns done=true to stop successfully,
// or a non-nil error to stop immediately with that error.
type Func func(ctx context.Context) (done bool, err error)

// Until calls fn immediately and then every interval until it reports done,
// returns an error, ctx is cancelled, or timeout elapses. The deadline is
// enforced on the context passed to fn as well, so a slow check cannot
// overrun it.
func Until(ctx context.Context, interval, timeout time.Duration, fn Func) error {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return deadlineErr(ctx)
		case <-timer.C:
		}

		done, err := fn(pollCtx)
		if done {
			return nil
		}
		if err != nil {
			if pollCtx.Err() != nil && errors.Is(err, pollCtx.Err()) {
				return deadlineErr(ctx)
			}
			return err
		}
		timer.Reset(interval)
	}
}

// deadlineErr tells a parent cancellation apart from our own deadline.
func deadlineErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrTimeout
}
