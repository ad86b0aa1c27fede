// Package audit delivers prediction events to configured sinks off the request path.
package audit

import (
	"time"

	"github.com/sepsis-api/sepsis/internal/inference"
)

// EventVersion is bumped whenever Event's JSON shape changes incompatibly.
const EventVersion = "1"

// Outcome classifies how a /predict request ended.
type Outcome string

const (
	OutcomePredicted Outcome = "predicted"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeError     Outcome = "error"
)

// ModelRef identifies the bundle that served a request.
type ModelRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Event is one audited /predict request.
type Event struct {
	Version       string             `json:"version"`
	Timestamp     time.Time          `json:"timestamp"`
	RequestID     string             `json:"request_id"`
	Model         ModelRef           `json:"model"`
	Outcome       Outcome            `json:"outcome"`
	Verdict       inference.Verdict  `json:"verdict,omitempty"`
	Label         *int64             `json:"label,omitempty"`
	Features      map[string]float64 `json:"features,omitempty"`
	InvalidFields []string           `json:"invalid_fields,omitempty"`
	LatencyMs     float64            `json:"latency_ms"`
}

// NewEvent stamps a fresh event for requestID.
func NewEvent(requestID string, model ModelRef) *Event {
	return &Event{
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Model:     model,
	}
}

// WithPrediction records a successful prediction.
func (e *Event) WithPrediction(pred inference.Prediction) *Event {
	label := pred.Label
	e.Outcome = OutcomePredicted
	e.Verdict = pred.Verdict
	e.Label = &label
	return e
}
