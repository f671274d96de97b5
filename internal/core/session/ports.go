package session

import (
	"context"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/core/reconcile"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/state/period"
	"github.com/charleschow/matchsync/internal/events"
)

// MatchInfo is the store's record of a match header.
type MatchInfo struct {
	MatchID          string           `json:"match_id"`
	HomeTeamID       string           `json:"home_team_id"`
	AwayTeamID       string           `json:"away_team_id"`
	Status           period.Status    `json:"status"`
	MatchTimeSeconds float64          `json:"match_time_seconds"`
	ClockMode        period.ClockMode `json:"clock_mode"`
}

// EventPage is one page of a match's persisted log.
type EventPage struct {
	Items   []match.MatchEvent `json:"items"`
	HasNext bool               `json:"has_next"`
}

// EventStore is the request/response side of the persistent store.
// Satisfied by *eventstore_http.Client.
type EventStore interface {
	GetMatch(ctx context.Context, matchID string) (MatchInfo, error)
	ListEvents(ctx context.Context, matchID string, page, pageSize int) (EventPage, error)
	PatchMatchStatus(ctx context.Context, matchID string, status period.Status) error
	PatchClockMode(ctx context.Context, matchID string, patch period.ClockPatch) error
	DeleteEvent(ctx context.Context, matchID, serverEventID string) error
}

type Config struct {
	Queue              queue.Config
	Limits             period.Limits
	Substitutions      rules.SubstitutionLimits
	DuplicateTolerance time.Duration
	PageSize           int
	InboxSize          int
}

func DefaultConfig() Config {
	return Config{
		Queue:              queue.DefaultConfig(),
		Limits:             period.DefaultLimits(),
		Substitutions:      rules.DefaultSubstitutionLimits(),
		DuplicateTolerance: reconcile.DefaultTolerance,
		PageSize:           100,
		InboxSize:          256,
	}
}

// Deps are the collaborators shared by every session. Only Channel and
// Store are required.
type Deps struct {
	Channel   queue.Channel
	Store     EventStore
	Validator rules.SubstitutionValidator
	Roster    rules.RosterProvider
	Outbox    queue.Outbox
	Bus       *events.Bus
	Now       func() time.Time
}
