package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rstunc/rstunc/internal/config"
	"github.com/rstunc/rstunc/internal/state"
)

func TestConnectAndServeAsyncThenStopAsyncReachesTerminated(t *testing.T) {
	cfg := config.New("secret", "192.0.2.1:3515", nil) // no tunnels configured

	c := New(cfg)
	c.ConnectAndServeAsync(context.Background())

	assert.Equal(t, state.Connecting, c.State())

	done := make(chan struct{})
	go func() {
		c.StopAsync(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StopAsync did not return")
	}

	assert.Equal(t, state.Terminated, c.State())
}

func TestStopSleepsGracePeriodThenEventuallyTerminates(t *testing.T) {
	cfg := config.New("secret", "192.0.2.1:3515", nil)

	c := New(cfg)
	c.ConnectAndServeAsync(context.Background())

	start := time.Now()
	c.Stop()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, gracePeriod)

	assert.Eventually(t, func() bool {
		return c.State() == state.Terminated
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetEnableInfoReportGatesTelemetry(t *testing.T) {
	cfg := config.New("secret", "192.0.2.1:3515", nil)
	c := New(cfg)

	var received string
	c.SetListener(func(jsonRecord string) { received = jsonRecord })

	c.table.SetState(state.Connected)
	assert.Empty(t, received, "telemetry must stay off until explicitly enabled")

	c.SetEnableInfoReport(true)
	c.table.SetState(state.LoggingIn)
	assert.NotEmpty(t, received)
}
