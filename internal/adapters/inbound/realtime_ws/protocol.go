package realtime_ws

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags every frame on the realtime channel.
type MessageType string

const (
	TypeSubmitEvent MessageType = "submit_event"
	TypeAck         MessageType = "ack"
	TypeEvent       MessageType = "event"
	TypeError       MessageType = "error"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Type      MessageType     `json:"type"`
	MatchID   string          `json:"match_id"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(t MessageType, matchID string, ts time.Time, payload any) (Envelope, error) {
	env := Envelope{Type: t, MatchID: matchID, Timestamp: ts}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("parse envelope: missing type")
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w", e.Type, err)
	}
	return nil
}

// ErrorPayload carries a server-side protocol error.
type ErrorPayload struct {
	Message string `json:"message"`
}
