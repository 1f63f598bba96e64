package tunnel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rstunc/rstunc/internal/config"
	"github.com/rstunc/rstunc/internal/logutil"
	"github.com/rstunc/rstunc/internal/state"
	"github.com/rstunc/rstunc/internal/telemetry"
)

func TestWorkerNameIncludesIndexAndAddr(t *testing.T) {
	w := &Worker{
		Index: 2,
		Tunnel: config.TunnelConfig{
			LocalServerAddr: "127.0.0.1:9000",
		},
	}

	assert.Equal(t, "tunnel#2(127.0.0.1:9000)", w.name())
}

func TestWorkerIdleTimeoutsComeFromConfig(t *testing.T) {
	w := &Worker{
		Cfg: &config.ClientConfig{TCPTimeoutMs: 5000, UDPTimeoutMs: 7000},
	}

	assert.Equal(t, 5*time.Second, w.tcpIdleTimeout())
	assert.Equal(t, 7*time.Second, w.udpIdleTimeout())
}

func TestRunExitsWithoutRetryingOnConfigError(t *testing.T) {
	tbl := state.New(telemetry.New())
	sink := logutil.NewSink(telemetry.New(), func() bool { return false })

	w := &Worker{
		Index: 0,
		Cfg: &config.ClientConfig{
			ServerAddr: "192.0.2.1:3515", // literal, resolve.Resolve short-circuits
			Cipher:     "not-a-real-cipher",
		},
		Tunnel: config.TunnelConfig{LocalServerAddr: "127.0.0.1:19000"},
		Table:  tbl,
		Sink:   sink,
	}

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept retrying a fatal configuration error instead of exiting")
	}
}
