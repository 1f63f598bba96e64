// Package logutil centralizes the client's logging conventions: plain
// golibs/log calls plus a parallel post to the telemetry bridge for
// TunnelLog records, matching the "log, then maybe mirror to bridge"
// shape the original client used for its log lines.
package logutil

import (
	"fmt"

	"github.com/AdguardTeam/golibs/log"

	"github.com/rstunc/rstunc/internal/telemetry"
)

// Sink couples stdout/stderr logging with optional telemetry mirroring.
type Sink struct {
	bridge  *telemetry.Bridge
	enabled func() bool
}

// NewSink builds a Sink that mirrors log lines to bridge whenever enabled
// returns true.
func NewSink(bridge *telemetry.Bridge, enabled func() bool) *Sink {
	return &Sink{bridge: bridge, enabled: enabled}
}

// Info logs at info level and mirrors to telemetry as a TunnelLog record.
func (s *Sink) Info(format string, args ...interface{}) {
	log.Info(format, args...)
	s.postLog(format, args...)
}

// Warn logs at warning level (golibs/log has no dedicated Warn, so this
// uses Info with a "[warn]" marker, matching how sparse log levels are
// handled elsewhere in the corpus) and mirrors to telemetry.
func (s *Sink) Warn(format string, args ...interface{}) {
	log.Info("[warn] "+format, args...)
	s.postLog("[warn] "+format, args...)
}

// Error logs at error level and mirrors to telemetry.
func (s *Sink) Error(format string, args ...interface{}) {
	log.Error(format, args...)
	s.postLog(format, args...)
}

// Debug logs at debug level without telemetry mirroring; debug detail is
// for local operators, not host integrations.
func (s *Sink) Debug(format string, args ...interface{}) {
	log.Debug(format, args...)
}

func (s *Sink) postLog(format string, args ...interface{}) {
	if s.bridge == nil || (s.enabled != nil && !s.enabled()) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.bridge.Post(telemetry.Record{
		Type:    telemetry.RecordLog,
		Payload: telemetry.NewLogPayload(msg),
	})
}
