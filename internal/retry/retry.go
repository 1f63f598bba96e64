// Package retry wraps github.com/cenkalti/backoff/v4 with the two backoff
// shapes spec §4.7 names: unbounded retry for connection establishment,
// and a 10-attempt-capped retry for local listener binding. Both cap the
// delay at 10 seconds.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rstunc/rstunc/internal/logutil"
)

const maxDelay = 10 * time.Second

// ShouldQuit is polled by the unbounded retry loop between attempts; it
// stops retrying once the client has begun shutting down (spec §4.7:
// "aborted only when should_quit() observes Stopping/Terminated").
type ShouldQuit func() bool

// Unbounded retries op with exponential backoff capped at 10s, forever,
// until it succeeds or shouldQuit reports true. name identifies the
// operation in warn-level backoff log lines.
func Unbounded(ctx context.Context, name string, sink *logutil.Sink, shouldQuit ShouldQuit, op func() error) error {
	bo := newBackOff()

	for {
		if shouldQuit() {
			return context.Canceled
		}

		err := op()
		if err == nil {
			return nil
		}

		if shouldQuit() {
			return context.Canceled
		}

		d := bo.NextBackOff()
		if d == backoff.Stop {
			d = maxDelay
		}
		sink.Warn("will retry %s after %s, err: %v", name, d, err)

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Bounded runs op at most 10 times (the first attempt plus up to 9
// retries) with the same backoff shape as Unbounded, for local TCP/UDP
// listener binding (spec §4.7).
func Bounded(ctx context.Context, name string, sink *logutil.Sink, op func() error) error {
	bo := backoff.WithMaxRetries(newBackOff(), 9)

	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		sink.Warn("will start %s after %s, err: %v", name, d, err)
	})
}

func newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = maxDelay
	return bo
}
