package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charleschow/matchsync/internal/events"
)

// Envelope is the wire format for events sent over the fanout WebSocket.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	MatchID   string          `json:"match_id,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalEvent serializes an Event into a JSON-encoded Envelope.
func MarshalEvent(evt events.Event) ([]byte, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		Type:      string(evt.Type),
		ID:        evt.ID,
		MatchID:   evt.MatchID,
		Timestamp: evt.Timestamp,
		Payload:   payload,
	}
	return json.Marshal(env)
}

// UnmarshalEvent deserializes a JSON Envelope back into a typed Event.
// Snapshot payloads stay as json.RawMessage; viewers decode the fields
// they render.
func UnmarshalEvent(data []byte) (events.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	evt := events.Event{
		ID:        env.ID,
		Type:      events.EventType(env.Type),
		MatchID:   env.MatchID,
		Timestamp: env.Timestamp,
	}

	var err error
	switch evt.Type {
	case events.EventSnapshot:
		evt.Payload = env.Payload
	case events.EventEntryStatus:
		evt.Payload, err = decode[events.EntryStatusEvent](env.Payload)
	case events.EventBanner:
		evt.Payload, err = decode[events.BannerEvent](env.Payload)
	case events.EventConflict:
		evt.Payload, err = decode[events.ConflictEvent](env.Payload)
	case events.EventTransition:
		evt.Payload, err = decode[events.TransitionEvent](env.Payload)
	case events.EventExpelled:
		evt.Payload, err = decode[events.ExpelledEvent](env.Payload)
	case events.EventConnection:
		evt.Payload, err = decode[events.ConnectionEvent](env.Payload)
	default:
		return evt, fmt.Errorf("unknown event type: %s", env.Type)
	}
	if err != nil {
		return evt, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return evt, nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
