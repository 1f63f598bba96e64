package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgePostWithNoListenerIsNoop(t *testing.T) {
	b := New()
	assert.False(t, b.HasListener())
	b.Post(Record{Type: RecordTraffic, Payload: Traffic{RxBytes: 1}})
}

func TestBridgePostDeliversJSON(t *testing.T) {
	b := New()

	var got string
	b.SetListener(func(jsonRecord string) { got = jsonRecord })
	assert.True(t, b.HasListener())

	b.Post(Record{Type: RecordTraffic, Payload: Traffic{RxBytes: 5, TxBytes: 6}})

	var decoded Record
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	assert.Equal(t, string(RecordTraffic), string(decoded.Type))
}

func TestTrafficAdd(t *testing.T) {
	a := Traffic{RxBytes: 1, TxBytes: 2, RxDgrams: 3, TxDgrams: 4}
	b := Traffic{RxBytes: 10, TxBytes: 20, RxDgrams: 30, TxDgrams: 40}

	sum := a.Add(b)
	assert.Equal(t, Traffic{RxBytes: 11, TxBytes: 22, RxDgrams: 33, TxDgrams: 44}, sum)
}

func TestNewLogPayloadStampsMessage(t *testing.T) {
	p := NewLogPayload("hello")
	assert.Equal(t, "hello", p.Message)
	assert.NotEmpty(t, p.Timestamp)
}
