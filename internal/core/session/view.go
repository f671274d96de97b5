package session

import (
	"time"

	"github.com/charleschow/matchsync/internal/core/analytics"
	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/core/reconcile"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/state/period"
	"github.com/charleschow/matchsync/internal/core/stoppage"
)

// View is everything a UI needs to render one match.
type View struct {
	MatchID    string                  `json:"match_id"`
	HomeTeamID string                  `json:"home_team_id"`
	AwayTeamID string                  `json:"away_team_id"`
	Active     bool                    `json:"active"`
	Connected  bool                    `json:"connected"`
	State      period.Snapshot         `json:"state"`
	Events     []match.MatchEvent      `json:"events"`
	Timeline   []reconcile.Record      `json:"timeline"`
	Queue      []queue.Entry           `json:"queue"`
	Analytics  analytics.Analytics     `json:"analytics"`
	Stoppages  stoppage.Aggregates     `json:"stoppages"`
	Discipline rules.Discipline        `json:"discipline"`
	Budgets    map[string]rules.Budget `json:"budgets,omitempty"`
	Banners    []reconcile.Banner      `json:"banners,omitempty"`
	Conflicts  []reconcile.Conflict    `json:"conflicts,omitempty"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// QueuedBadge is the count shown on the offline badge: submissions the
// store has not answered yet. Zero hides the badge.
func (v View) QueuedBadge() int {
	n := 0
	for _, e := range v.Queue {
		if !e.Status.Terminal() {
			n++
		}
	}
	return n
}

// Failed lists submissions that need a manual retry or discard.
func (v View) Failed() []queue.Entry {
	var out []queue.Entry
	for _, e := range v.Queue {
		if e.Status == queue.StatusFailed {
			out = append(out, e)
		}
	}
	return out
}

func (s *Session) view() View {
	log := s.resolver.Events()
	budgets := make(map[string]rules.Budget, len(s.budgets))
	for k, b := range s.budgets {
		budgets[k] = b
	}
	return View{
		MatchID:    s.MatchID,
		HomeTeamID: s.lineup.HomeTeamID,
		AwayTeamID: s.lineup.AwayTeamID,
		Active:     s.active,
		Connected:  s.connected,
		State:      s.machine.Snapshot(),
		Events:     log,
		Timeline:   s.resolver.Timeline(),
		Queue:      s.queue.Snapshot(),
		Analytics:  s.analytics(log),
		Stoppages:  s.stops,
		Discipline: s.disc,
		Budgets:    budgets,
		Banners:    s.resolver.Banners(),
		Conflicts:  s.resolver.Conflicts(),
		UpdatedAt:  s.deps.Now().UTC(),
	}
}
