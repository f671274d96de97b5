package events

// EntryStatusEvent reports a queue entry moving between delivery states.
type EntryStatusEvent struct {
	MatchID        string `json:"match_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	RetryCount     int    `json:"retry_count"`
	ServerEventID  string `json:"server_event_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// BannerEvent is a dismissible duplicate notice.
type BannerEvent struct {
	MatchID   string `json:"match_id"`
	BannerID  string `json:"banner_id"`
	Key       string `json:"key"`
	Canonical string `json:"canonical"`
	Message   string `json:"message"`
}

// ConflictEvent is raised when two persisted events look like the same
// action and need a human decision.
type ConflictEvent struct {
	MatchID    string `json:"match_id"`
	ConflictID string `json:"conflict_id"`
	EventType  string `json:"event_type"`
	Clock      string `json:"clock"`
	Canonical  string `json:"canonical_server_id"`
	Duplicate  string `json:"duplicate_server_id"`
}

type TransitionEvent struct {
	MatchID string `json:"match_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	// Override is set when an admin bypassed a minimum-time gate.
	Override bool `json:"override,omitempty"`
}

// ExpelledEvent fires the first time a player's derived discipline
// reaches expulsion.
type ExpelledEvent struct {
	MatchID  string `json:"match_id"`
	TeamID   string `json:"team_id"`
	PlayerID string `json:"player_id"`
	Yellow   int    `json:"yellow"`
	Red      int    `json:"red"`
}

// ConnectionEvent signals realtime channel connect/disconnect.
type ConnectionEvent struct {
	Connected bool `json:"connected"`
}
