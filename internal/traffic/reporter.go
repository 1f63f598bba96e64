// Package traffic implements the TrafficReporter (spec §4.8): a periodic
// summary of live-plus-lifetime QUIC counters posted to the telemetry
// bridge.
package traffic

import (
	"context"
	"time"

	"github.com/rstunc/rstunc/internal/state"
	"github.com/rstunc/rstunc/internal/telemetry"
)

const interval = 30 * time.Second

// Run ticks every 30s, posting a TunnelTraffic record built from
// tbl.TrafficSnapshot(), until ctx is canceled or the table's state reaches
// Stopping/Terminated. Missed ticks are skipped, not queued, matching
// time.Ticker's own drop-on-backpressure behavior.
func Run(ctx context.Context, tbl *state.Table, bridge *telemetry.Bridge) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tbl.ShouldQuit() {
				return
			}
			if !tbl.InfoReportEnabled() || bridge == nil {
				continue
			}
			snap := tbl.TrafficSnapshot()
			bridge.Post(telemetry.Record{Type: telemetry.RecordTraffic, Payload: snap})
		}
	}
}
