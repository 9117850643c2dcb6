package events

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEmitter captures events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestEventConstructors(t *testing.T) {
	slashed := OracleSlashed("0xabc", "major_deviation", 20)
	assert.Equal(t, TypeOracleSlashed, slashed.Type)
	assert.Equal(t, "0xabc", slashed.Payload["oracle"])
	assert.Equal(t, uint32(20), slashed.Payload["penalty"])
	assert.False(t, slashed.Time.IsZero())

	adjusted := WeightAdjusted("0xabc", 1, 5, 80)
	assert.Equal(t, TypeWeightAdjusted, adjusted.Type)
	assert.Equal(t, uint32(1), adjusted.Payload["old_weight"])
	assert.Equal(t, uint32(5), adjusted.Payload["new_weight"])
}

func TestMultiEmitterFansOut(t *testing.T) {
	first := &recordingEmitter{}
	second := &recordingEmitter{}
	multi := MultiEmitter{first, second, NopEmitter{}}

	multi.Emit(PriceSubmitted("0xabc", 1010000000))

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, TypePriceSubmit, first.events[0].Type)
}

func TestWebhookExporterDeliversBatch(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exporter, err := NewWebhookExporter(WebhookConfig{
		URL:           server.URL,
		BatchSize:     10,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	defer exporter.Stop()

	exporter.Emit(ConsensusReached(1010000000, 3))
	exporter.Emit(OracleRemoved("0xdef", "Low reputation"))
	exporter.Flush()

	select {
	case body := <-received:
		var payload struct {
			Events []Event `json:"events"`
			Count  int     `json:"count"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, 2, payload.Count)
		require.Len(t, payload.Events, 2)
		assert.Equal(t, TypeConsensusReached, payload.Events[0].Type)
		assert.Equal(t, TypeOracleRemoved, payload.Events[1].Type)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook delivery timed out")
	}
}

func TestWebhookExporterRequiresURL(t *testing.T) {
	_, err := NewWebhookExporter(WebhookConfig{})
	require.Error(t, err)
}
