package main

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/session"
	"github.com/charleschow/matchsync/internal/core/state/period"
)

const windowGap = 60 * time.Second

type teamSubs struct {
	total      int
	windows    int
	concussion int
	lastAt     time.Time
}

type mockMatch struct {
	info   session.MatchInfo
	events []match.MatchEvent
	byKey  map[string]string // idempotency key -> server event id
	subs   map[string]*teamSubs
}

// store is the mock's persistent side: server-assigned ids, idempotent
// submission and the substitution rule service.
type store struct {
	mu        sync.Mutex
	matches   map[string]*mockMatch
	nextID    int
	tolerance match.Clock
	limits    rules.SubstitutionLimits
	now       func() time.Time
}

func newStore() *store {
	return &store{
		matches:   make(map[string]*mockMatch),
		tolerance: 500,
		limits:    rules.DefaultSubstitutionLimits(),
		now:       time.Now,
	}
}

func (s *store) addMatch(id, home, away string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[id] = &mockMatch{
		info: session.MatchInfo{
			MatchID:    id,
			HomeTeamID: home,
			AwayTeamID: away,
			Status:     period.StatusPending,
			ClockMode:  period.ClockWall,
		},
		byKey: make(map[string]string),
		subs:  make(map[string]*teamSubs),
	}
}

func (s *store) match(id string) (*mockMatch, bool) {
	m, ok := s.matches[id]
	return m, ok
}

func (m *mockMatch) team(id string) *teamSubs {
	t, ok := m.subs[id]
	if !ok {
		t = &teamSubs{}
		m.subs[id] = t
	}
	return t
}

// submit persists ev once per idempotency key and once per action tuple.
func (s *store) submit(ev match.MatchEvent) queue.Ack {
	s.mu.Lock()
	defer s.mu.Unlock()

	ack := queue.Ack{MatchID: ev.MatchID, IdempotencyKey: ev.IdempotencyKey}
	m, ok := s.match(ev.MatchID)
	if !ok {
		ack.Status = queue.AckError
		ack.ErrorDetail = "unknown match " + ev.MatchID
		return ack
	}
	if id, ok := m.byKey[ev.IdempotencyKey]; ok {
		ack.Status = queue.AckDuplicate
		ack.ServerEventID = id
		return ack
	}
	for _, prior := range m.events {
		if prior.SameAction(ev, s.tolerance) {
			m.byKey[ev.IdempotencyKey] = prior.ServerEventID
			ack.Status = queue.AckDuplicate
			ack.ServerEventID = prior.ServerEventID
			return ack
		}
	}
	if err := match.ValidateEvent(ev); err != nil {
		ack.Status = queue.AckError
		ack.ErrorDetail = err.Error()
		return ack
	}

	stored := s.persist(m, ev)
	ack.Status = queue.AckSuccess
	ack.ServerEventID = stored.ServerEventID
	return ack
}

// ingest stores an event from a third-party feed; the caller broadcasts it.
func (s *store) ingest(ev match.MatchEvent) (match.MatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.match(ev.MatchID)
	if !ok {
		return match.MatchEvent{}, fmt.Errorf("unknown match %s", ev.MatchID)
	}
	ev.SourceOrigin = match.OriginIngestion
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = fmt.Sprintf("ingest-%d", s.nextID+1)
	}
	return s.persist(m, ev), nil
}

func (s *store) persist(m *mockMatch, ev match.MatchEvent) match.MatchEvent {
	s.nextID++
	ev.ServerEventID = fmt.Sprintf("evt-%d", s.nextID)
	m.events = append(m.events, ev)
	m.byKey[ev.IdempotencyKey] = ev.ServerEventID

	if ev.Type == match.EventSubstitution {
		t := m.team(ev.TeamID)
		now := s.now()
		if t.total == 0 || now.Sub(t.lastAt) > windowGap {
			t.windows++
		}
		t.total++
		if ev.Data.IsConcussion {
			t.concussion++
		}
		t.lastAt = now
	}
	return ev
}

func (s *store) getMatch(id string) (session.MatchInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.match(id)
	if !ok {
		return session.MatchInfo{}, false
	}
	return m.info, true
}

// list pages the log ordered by period then clock.
func (s *store) list(id string, page, size int) (session.EventPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.match(id)
	if !ok {
		return session.EventPage{}, false
	}
	all := make([]match.MatchEvent, len(m.events))
	copy(all, m.events)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Period != all[j].Period {
			return all[i].Period < all[j].Period
		}
		return all[i].MatchClock < all[j].MatchClock
	})

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 100
	}
	start := (page - 1) * size
	if start >= len(all) {
		return session.EventPage{Items: []match.MatchEvent{}}, true
	}
	end := min(start+size, len(all))
	return session.EventPage{Items: all[start:end], HasNext: end < len(all)}, true
}

func (s *store) patchStatus(id string, to period.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.match(id)
	if !ok {
		return errNotFound
	}
	from := m.info.Status
	if !from.CanTransitionTo(to) {
		return &match.TransitionError{From: string(from), To: string(to), Reason: "not a legal next status"}
	}
	m.info.Status = to
	return nil
}

func (s *store) patchClock(id string, p period.ClockPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.match(id)
	if !ok {
		return errNotFound
	}
	m.info.MatchTimeSeconds = p.MatchTimeSeconds
	if p.ClockMode != "" {
		m.info.ClockMode = p.ClockMode
	}
	return nil
}

func (s *store) deleteEvent(id, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.match(id)
	if !ok {
		return errNotFound
	}
	for i, ev := range m.events {
		if ev.ServerEventID != serverID {
			continue
		}
		m.events = append(m.events[:i], m.events[i+1:]...)
		for k, v := range m.byKey {
			if v == serverID {
				delete(m.byKey, k)
			}
		}
		if ev.Type == match.EventSubstitution {
			if t := m.team(ev.TeamID); t.total > 0 {
				t.total--
			}
		}
		return nil
	}
	return errNotFound
}

func (s *store) validateSubstitution(req rules.SubstitutionRequest) (rules.SubstitutionVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.match(req.MatchID)
	if !ok {
		return rules.SubstitutionVerdict{}, errNotFound
	}

	extra := m.info.Status == period.StatusLiveExtraFirst || m.info.Status == period.StatusExtraHalftime ||
		m.info.Status == period.StatusLiveExtraSecond
	b := s.limits.Budget(req.TeamID)
	if extra {
		b = s.limits.ExtraTime(b)
	}
	t := m.team(req.TeamID)
	opens := t.total == 0 || s.now().Sub(t.lastAt) > windowGap

	status := match.TeamStatus{
		TotalSubstitutions:     t.total,
		MaxSubstitutions:       b.MaxSubstitutions,
		RemainingSubstitutions: b.MaxSubstitutions - t.total,
		WindowsUsed:            t.windows,
		MaxWindows:             b.MaxWindows,
		RemainingWindows:       b.MaxWindows - t.windows,
		IsExtraTime:            extra,
		ConcussionSubsUsed:     t.concussion,
	}
	v := rules.SubstitutionVerdict{IsValid: true, OpensNewWindow: opens, TeamStatus: status}

	switch {
	case req.IsConcussion:
		// Concussion replacements sit outside the normal allowance.
	case t.total >= b.MaxSubstitutions:
		v.IsValid = false
		v.ErrorMessage = fmt.Sprintf("all %d substitutions used", b.MaxSubstitutions)
	case opens && t.windows >= b.MaxWindows:
		v.IsValid = false
		v.ErrorMessage = fmt.Sprintf("all %d substitution windows used", b.MaxWindows)
	}
	return v, nil
}
