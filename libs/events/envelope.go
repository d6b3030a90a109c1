// Package events defines the canonical event envelope carried across the
// messaging boundary and the codec for broker push deliveries.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeWorkflowTriggered = "workflow.triggered"

	DefaultSource  = "api"
	DefaultVersion = 1
)

// Envelope is immutable once constructed; EventID is stable across
// redeliveries of the same logical event.
type Envelope struct {
	EventID   uuid.UUID      `json:"event_id"`
	EventType string         `json:"event_type"`
	Version   int            `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	TraceID   string         `json:"trace_id"`
	Payload   map[string]any `json:"payload"`
}

// PayloadString returns payload[key] when it is a non-empty string.
func (e Envelope) PayloadString(key string) (string, bool) {
	v, ok := e.Payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// PayloadCopy returns a shallow copy of the payload suitable for snapshots.
func (e Envelope) PayloadCopy() map[string]any {
	out := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		out[k] = v
	}
	return out
}

type BuildParams struct {
	EventType string
	Payload   map[string]any
	TraceID   string
	Source    string
	Version   int
}

// Build creates a fresh envelope with a new event id and the current UTC time.
func Build(p BuildParams) Envelope {
	if p.Source == "" {
		p.Source = DefaultSource
	}
	if p.Version <= 0 {
		p.Version = DefaultVersion
	}
	if p.TraceID == "" {
		p.TraceID = uuid.NewString()
	}
	payload := p.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{
		EventID:   uuid.New(),
		EventType: p.EventType,
		Version:   p.Version,
		Timestamp: time.Now().UTC(),
		Source:    p.Source,
		TraceID:   p.TraceID,
		Payload:   payload,
	}
}

func Encode(e Envelope) ([]byte, error) {
	e.Timestamp = e.Timestamp.UTC()
	return json.Marshal(e)
}
