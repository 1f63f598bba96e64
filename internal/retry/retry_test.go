package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rstunc/rstunc/internal/logutil"
	"github.com/rstunc/rstunc/internal/telemetry"
)

func testSink() *logutil.Sink {
	return logutil.NewSink(telemetry.New(), func() bool { return false })
}

func TestUnboundedSucceedsEventually(t *testing.T) {
	var attempts atomic.Int32

	err := Unbounded(context.Background(), "test", testSink(), func() bool { return false }, func() error {
		if attempts.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestUnboundedStopsWhenShouldQuit(t *testing.T) {
	var quit atomic.Bool

	err := Unbounded(context.Background(), "test", testSink(), quit.Load, func() error {
		quit.Store(true)
		return errors.New("always fails")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnboundedRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Unbounded(ctx, "test", testSink(), func() bool { return false }, func() error {
		return errors.New("always fails")
	})

	assert.Error(t, err)
}

func TestBoundedGivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32

	err := Bounded(context.Background(), "test", testSink(), func() error {
		attempts.Add(1)
		return errors.New("always fails")
	})

	assert.Error(t, err)
	assert.Equal(t, int32(10), attempts.Load())
}

func TestBoundedSucceedsWithoutExhaustingRetries(t *testing.T) {
	var attempts atomic.Int32

	err := Bounded(context.Background(), "test", testSink(), func() error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}
