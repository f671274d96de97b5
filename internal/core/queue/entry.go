package queue

import (
	"context"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
)

// LocalStatus is the client-side lifecycle of a submission.
type LocalStatus string

const (
	StatusPending      LocalStatus = "pending"
	StatusQueued       LocalStatus = "queued"
	StatusAcknowledged LocalStatus = "acknowledged"
	StatusDuplicate    LocalStatus = "duplicate"
	StatusFailed       LocalStatus = "failed"
)

// Terminal reports whether no further sends will happen without an
// explicit retry.
func (s LocalStatus) Terminal() bool {
	return s == StatusAcknowledged || s == StatusDuplicate || s == StatusFailed
}

// Entry wraps an event with its delivery state.
type Entry struct {
	Event       match.MatchEvent `json:"event"`
	Status      LocalStatus      `json:"local_status"`
	SubmittedAt time.Time        `json:"submitted_at"`
	RetryCount  int              `json:"retry_count"`
	Seq         int64            `json:"seq"`
	LastError   string           `json:"last_error,omitempty"`

	// ServerEventID is filled from a success or duplicate ack.
	ServerEventID string    `json:"server_event_id,omitempty"`
	nextAttempt   time.Time // zero unless backing off
}

func (e Entry) Key() string { return e.Event.IdempotencyKey }

// AckStatus is the store's verdict on one submission.
type AckStatus string

const (
	AckSuccess   AckStatus = "success"
	AckDuplicate AckStatus = "duplicate"
	AckError     AckStatus = "error"
)

// Ack answers a submit for one idempotency key.
type Ack struct {
	MatchID        string    `json:"match_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Status         AckStatus `json:"status"`
	ServerEventID  string    `json:"server_event_id,omitempty"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	// Retryable marks an error ack caused by a transient store condition.
	Retryable bool `json:"retryable,omitempty"`
}

// Channel is the realtime transport the queue sends over. Send only
// writes the submission; the answer arrives later through HandleAck.
type Channel interface {
	Send(ctx context.Context, ev match.MatchEvent) error
	Connected() bool
}

// Outbox persists unacknowledged entries so a reload keeps the queue.
type Outbox interface {
	Save(e Entry) error
	Delete(matchID, key string) error
	Load(matchID string) ([]Entry, error)
}
