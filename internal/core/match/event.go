package match

import "time"

// NeutralTeam is the team id used by team-agnostic events (VAR reviews,
// neutral stoppages).
const NeutralTeam = "neutral"

type EventType string

const (
	EventPass             EventType = "Pass"
	EventShot             EventType = "Shot"
	EventDuel             EventType = "Duel"
	EventFoulCommitted    EventType = "FoulCommitted"
	EventCard             EventType = "Card"
	EventInterception     EventType = "Interception"
	EventClearance        EventType = "Clearance"
	EventBlock            EventType = "Block"
	EventRecovery         EventType = "Recovery"
	EventOffside          EventType = "Offside"
	EventSetPiece         EventType = "SetPiece"
	EventGoalkeeperAction EventType = "GoalkeeperAction"
	EventSubstitution     EventType = "Substitution"
	EventGameStoppage     EventType = "GameStoppage"
	EventVARDecision      EventType = "VARDecision"
)

var knownTypes = map[EventType]bool{
	EventPass: true, EventShot: true, EventDuel: true, EventFoulCommitted: true,
	EventCard: true, EventInterception: true, EventClearance: true, EventBlock: true,
	EventRecovery: true, EventOffside: true, EventSetPiece: true,
	EventGoalkeeperAction: true, EventSubstitution: true, EventGameStoppage: true,
	EventVARDecision: true,
}

func (t EventType) Valid() bool { return knownTypes[t] }

// Neutral reports whether the type may be logged without a team.
func (t EventType) Neutral() bool {
	return t == EventGameStoppage || t == EventVARDecision
}

// PlayerAction reports whether the type names an acting player.
func (t EventType) PlayerAction() bool {
	switch t {
	case EventGameStoppage, EventVARDecision, EventSetPiece:
		return false
	}
	return true
}

type SourceOrigin string

const (
	OriginOperatorLive SourceOrigin = "operator-live"
	OriginIngestion    SourceOrigin = "ingestion"
	OriginHarness      SourceOrigin = "harness"
)

// Local reports whether events from this origin are logged by the operator
// side of the engine (and are therefore candidates for undo).
func (o SourceOrigin) Local() bool {
	return o == OriginOperatorLive || o == OriginHarness
}

type CardType string

const (
	CardYellow       CardType = "Yellow"
	CardSecondYellow CardType = "SecondYellow"
	CardRed          CardType = "Red"
	CardCancelled    CardType = "Cancelled"
)

type StoppageType string

const (
	StoppageClockStop  StoppageType = "ClockStop"
	StoppageClockStart StoppageType = "ClockStart"
	StoppageVARStart   StoppageType = "VARStart"
	StoppageVARStop    StoppageType = "VARStop"
)

type TriggerAction string

const (
	TriggerOutOfBounds  TriggerAction = "OutOfBounds"
	TriggerGoal         TriggerAction = "Goal"
	TriggerInjury       TriggerAction = "Injury"
	TriggerFoul         TriggerAction = "Foul"
	TriggerSubstitution TriggerAction = "Substitution"
	TriggerOffside      TriggerAction = "Offside"
	TriggerCard         TriggerAction = "Card"
	TriggerVAR          TriggerAction = "VAR"
	TriggerOther        TriggerAction = "Other"
)

// Shot and pass outcomes.
const (
	OutcomeGoal       = "Goal"
	OutcomeSaved      = "Saved"
	OutcomeOffTarget  = "OffTarget"
	OutcomePost       = "Post"
	OutcomeBlocked    = "Blocked"
	OutcomeOwnGoal    = "OwnGoal"
	OutcomeComplete   = "Complete"
	OutcomeIncomplete = "Incomplete"
	OutcomeWon        = "Won"
	OutcomeLost       = "Lost"
)

const SetPieceCorner = "Corner"

// EventData is the variant payload. Which fields are meaningful depends on
// the event type; ValidateEvent enforces the required ones.
type EventData struct {
	Outcome       string        `json:"outcome,omitempty"`
	CardType      CardType      `json:"card_type,omitempty"`
	Cancels       string        `json:"cancels,omitempty"` // idempotency key of the card being cancelled
	StoppageType  StoppageType  `json:"stoppage_type,omitempty"`
	TriggerAction TriggerAction `json:"trigger_action,omitempty"`
	SetPieceType  string        `json:"set_piece_type,omitempty"`
	PlayerOn      string        `json:"player_on,omitempty"`
	IsConcussion  bool          `json:"is_concussion,omitempty"`
	Decision      string        `json:"decision,omitempty"`
}

// MatchEvent is the atomic unit of the match log.
type MatchEvent struct {
	IdempotencyKey string       `json:"idempotency_key"`
	MatchID        string       `json:"match_id"`
	Period         int          `json:"period"`
	MatchClock     Clock        `json:"match_clock"`
	TeamID         string       `json:"team_id"`
	PlayerID       string       `json:"player_id,omitempty"`
	Type           EventType    `json:"type"`
	Data           EventData    `json:"data"`
	SourceOrigin   SourceOrigin `json:"source_origin"`
	ServerEventID  string       `json:"server_event_id,omitempty"`
	SubmittedAt    time.Time    `json:"submitted_at,omitempty"`
}

// Pending reports whether the store has not yet assigned an id.
func (e MatchEvent) Pending() bool { return e.ServerEventID == "" }

// Team returns the attributed team, mapping an empty id to NeutralTeam.
func (e MatchEvent) Team() string {
	if e.TeamID == "" {
		return NeutralTeam
	}
	return e.TeamID
}

// SameAction reports whether o records the same real-world action as e:
// same match, period, team, player and type within tol of each other on
// the clock. Of the variant data only the fields that name a different
// action count (card, stoppage, set piece and the player coming on); an
// outcome or trigger that differs is a correction of the same action.
func (e MatchEvent) SameAction(o MatchEvent, tol Clock) bool {
	if e.MatchID != o.MatchID || e.Period != o.Period || e.Team() != o.Team() ||
		e.PlayerID != o.PlayerID || e.Type != o.Type {
		return false
	}
	a, b := e.Data, o.Data
	if a.CardType != b.CardType || a.StoppageType != b.StoppageType ||
		a.SetPieceType != b.SetPieceType || a.PlayerOn != b.PlayerOn {
		return false
	}
	d := e.MatchClock - o.MatchClock
	if d < 0 {
		d = -d
	}
	return d <= tol
}
