// Package telemetry defines the JSON records posted to the optional
// host-integration listener and the thread-safe bridge that delivers them.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
)

// RecordType distinguishes the three kinds of telemetry records. The
// relative ordering of records across types is not guaranteed (spec
// Non-goals), only that a single emission is delivered as one callback
// invocation.
type RecordType string

const (
	// RecordState carries a ClientState transition.
	RecordState RecordType = "TunnelState"
	// RecordLog carries a formatted, timestamped log line.
	RecordLog RecordType = "TunnelLog"
	// RecordTraffic carries an aggregated TunnelTraffic snapshot.
	RecordTraffic RecordType = "TunnelTraffic"
)

// Traffic is the aggregated byte/datagram counters reported every tick by
// the TrafficReporter.
type Traffic struct {
	RxBytes  uint64 `json:"rx_bytes"`
	TxBytes  uint64 `json:"tx_bytes"`
	RxDgrams uint64 `json:"rx_dgrams"`
	TxDgrams uint64 `json:"tx_dgrams"`
}

// Add returns the element-wise sum of t and other.
func (t Traffic) Add(other Traffic) Traffic {
	return Traffic{
		RxBytes:  t.RxBytes + other.RxBytes,
		TxBytes:  t.TxBytes + other.TxBytes,
		RxDgrams: t.RxDgrams + other.RxDgrams,
		TxDgrams: t.TxDgrams + other.TxDgrams,
	}
}

// Record is the envelope posted to the listener callback.
type Record struct {
	Type    RecordType  `json:"type"`
	Payload interface{} `json:"payload"`
}

// Listener receives one serialized JSON record per call. It must be safe
// to invoke concurrently from any goroutine.
type Listener func(jsonRecord string)

// Bridge fans Record values out to at most one registered Listener. A
// single mutex guards the listener pointer so Set/Get/Post never race.
type Bridge struct {
	mu       sync.RWMutex
	listener Listener
}

// New returns an empty Bridge.
func New() *Bridge {
	return &Bridge{}
}

// SetListener installs cb as the sole telemetry sink, replacing any prior
// listener.
func (b *Bridge) SetListener(cb Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = cb
}

// HasListener reports whether a listener is currently installed.
func (b *Bridge) HasListener() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listener != nil
}

// Post serializes rec to JSON and invokes the listener, if any. Marshal
// failures are logged and dropped; telemetry must never propagate an
// error back into the caller's control flow (spec §7 propagation policy).
func (b *Bridge) Post(rec Record) {
	b.mu.RLock()
	cb := b.listener
	b.mu.RUnlock()

	if cb == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		log.Error("telemetry: failed to marshal %s record: %v", rec.Type, err)
		return
	}

	cb(string(data))
}

// LogPayload is the payload of a RecordLog record.
type LogPayload struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// NewLogPayload stamps msg with the current time in the same layout the
// original client used for its log lines.
func NewLogPayload(msg string) LogPayload {
	return LogPayload{
		Timestamp: time.Now().Format("2006-01-02 15:04:05.000"),
		Message:   msg,
	}
}
