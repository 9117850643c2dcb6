// Package events defines the engine's event stream and the sinks that
// consume it: structured logs, prometheus counters and an optional
// webhook batch exporter.
package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Type names an engine event.
type Type string

// Engine event types.
const (
	TypePriceSubmit      Type = "price_submit"
	TypeConsensusReached Type = "consensus_reached"
	TypeWeightAdjusted   Type = "weight_adjusted"
	TypeOracleSlashed    Type = "oracle_slashed"
	TypeOracleRemoved    Type = "oracle_removed"
)

// Event is one emitted engine event with its payload.
type Event struct {
	Type    Type                   `json:"type"`
	Time    time.Time              `json:"time"`
	Payload map[string]interface{} `json:"payload"`
}

// Emitter consumes engine events. Implementations must not block the
// engine; slow delivery belongs in a buffering sink.
type Emitter interface {
	Emit(event Event)
}

// PriceSubmitted is emitted when a submission enters the round buffer.
func PriceSubmitted(oracle string, price int64) Event {
	return newEvent(TypePriceSubmit, map[string]interface{}{
		"oracle": oracle,
		"price":  price,
	})
}

// ConsensusReached is emitted after a round is finalized.
func ConsensusReached(price int64, numOracles uint32) Event {
	return newEvent(TypeConsensusReached, map[string]interface{}{
		"price":       price,
		"num_oracles": numOracles,
	})
}

// WeightAdjusted is emitted when a recomputation changes an oracle's weight.
func WeightAdjusted(oracle string, oldWeight, newWeight, reputation uint32) Event {
	return newEvent(TypeWeightAdjusted, map[string]interface{}{
		"oracle":     oracle,
		"old_weight": oldWeight,
		"new_weight": newWeight,
		"reputation": reputation,
	})
}

// OracleSlashed is emitted when a penalty is applied.
func OracleSlashed(oracle, reason string, penalty uint32) Event {
	return newEvent(TypeOracleSlashed, map[string]interface{}{
		"oracle":  oracle,
		"reason":  reason,
		"penalty": penalty,
	})
}

// OracleRemoved is emitted when an oracle leaves the active set.
func OracleRemoved(oracle, reason string) Event {
	return newEvent(TypeOracleRemoved, map[string]interface{}{
		"oracle": oracle,
		"reason": reason,
	})
}

func newEvent(t Type, payload map[string]interface{}) Event {
	return Event{Type: t, Time: time.Now().UTC(), Payload: payload}
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) {}

// MultiEmitter fans every event out to all configured sinks.
type MultiEmitter []Emitter

// Emit delivers the event to every sink in order.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}

// LogEmitter writes events as structured log lines.
type LogEmitter struct {
	logger *logrus.Logger
}

// NewLogEmitter creates a sink writing to logger, or the standard
// logger when nil.
func NewLogEmitter(logger *logrus.Logger) *LogEmitter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event with its payload as fields.
func (l *LogEmitter) Emit(event Event) {
	fields := logrus.Fields{"event": string(event.Type)}
	for k, v := range event.Payload {
		fields[k] = v
	}
	l.logger.WithFields(fields).Info("engine event")
}

// PrometheusEmitter counts events by type.
type PrometheusEmitter struct {
	counter *prometheus.CounterVec
}

// NewPrometheusEmitter creates the counter vec and registers it with reg.
func NewPrometheusEmitter(reg prometheus.Registerer) *PrometheusEmitter {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_engine_events_total",
			Help: "Total number of engine events emitted, by type",
		},
		[]string{"type"},
	)
	reg.MustRegister(counter)
	return &PrometheusEmitter{counter: counter}
}

// Emit increments the counter for the event type.
func (p *PrometheusEmitter) Emit(event Event) {
	p.counter.WithLabelValues(string(event.Type)).Inc()
}
