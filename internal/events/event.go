package events

import "time"

// Event is the envelope that flows through the event bus.
// Every engine notification (view change, banner, conflict) is wrapped in one.
type Event struct {
	ID        string
	Type      EventType
	MatchID   string
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	// Full view of a match after any change. Payload is the session view.
	EventSnapshot EventType = "snapshot"
	// Delivery state of one submission changed.
	EventEntryStatus EventType = "entry_status"
	EventBanner      EventType = "duplicate_banner"
	EventConflict    EventType = "conflict"
	EventTransition  EventType = "period_transition"
	EventExpelled    EventType = "player_expelled"
	// Realtime channel up/down.
	EventConnection EventType = "connection"
)

// AllTypes lists every type, for subscribers that forward everything.
var AllTypes = []EventType{
	EventSnapshot, EventEntryStatus, EventBanner, EventConflict,
	EventTransition, EventExpelled, EventConnection,
}
