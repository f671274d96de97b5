package period

import "github.com/charleschow/matchsync/internal/core/match"

// Status is the match lifecycle phase.
type Status string

const (
	StatusPending         Status = "Pending"
	StatusLiveFirstHalf   Status = "Live_First_Half"
	StatusHalftime        Status = "Halftime"
	StatusLiveSecondHalf  Status = "Live_Second_Half"
	StatusFulltime        Status = "Fulltime"
	StatusLiveExtraFirst  Status = "Live_Extra_First"
	StatusExtraHalftime   Status = "Extra_Halftime"
	StatusLiveExtraSecond Status = "Live_Extra_Second"
	StatusPenalties       Status = "Penalties"
	StatusCompleted       Status = "Completed" // final whistle, after regulation, extra time or penalties
)

var forward = map[Status][]Status{
	StatusPending:         {StatusLiveFirstHalf},
	StatusLiveFirstHalf:   {StatusHalftime},
	StatusHalftime:        {StatusLiveSecondHalf},
	StatusLiveSecondHalf:  {StatusFulltime},
	StatusFulltime:        {StatusLiveExtraFirst, StatusPenalties, StatusCompleted},
	StatusLiveExtraFirst:  {StatusExtraHalftime},
	StatusExtraHalftime:   {StatusLiveExtraSecond},
	StatusLiveExtraSecond: {StatusPenalties, StatusCompleted},
	StatusPenalties:       {StatusCompleted},
}

// Next returns the legal forward transitions from s.
func (s Status) Next() []Status {
	return append([]Status(nil), forward[s]...)
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, n := range forward[s] {
		if n == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	_, ok := forward[s]
	return ok || s == StatusCompleted
}

// Live reports whether the ball can be in play (wall clock running).
func (s Status) Live() bool {
	switch s {
	case StatusLiveFirstHalf, StatusLiveSecondHalf, StatusLiveExtraFirst, StatusLiveExtraSecond:
		return true
	}
	return false
}

// Period returns the period number events logged in this status belong to.
// Intervals report the period about to start.
func (s Status) Period() int {
	switch s {
	case StatusPending, StatusLiveFirstHalf:
		return 1
	case StatusHalftime, StatusLiveSecondHalf:
		return 2
	case StatusFulltime, StatusLiveExtraFirst:
		return 3
	case StatusExtraHalftime, StatusLiveExtraSecond:
		return 4
	default:
		return 5
	}
}

// Accepts reports whether an event of type t may be logged in this status.
func (s Status) Accepts(t match.EventType) bool {
	switch {
	case s.Live():
		return true
	case s == StatusPenalties:
		switch t {
		case match.EventShot, match.EventGoalkeeperAction, match.EventCard,
			match.EventGameStoppage, match.EventVARDecision:
			return true
		}
	case s == StatusHalftime || s == StatusExtraHalftime || s == StatusFulltime:
		return t == match.EventCard || t == match.EventSubstitution
	}
	return false
}
