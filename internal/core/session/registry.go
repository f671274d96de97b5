package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/events"
	"github.com/charleschow/matchsync/internal/telemetry"
)

// Registry is a thread-safe map of open match sessions, keyed by match id.
//
// The registry's RWMutex protects the map and the active id. It does NOT
// protect session contents: each Session serializes its own state through
// its inbox.
type Registry struct {
	cfg  Config
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
	active   string
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Open loads a match and starts its session. Opening an already open
// match returns the existing session. The first match opened becomes
// active.
func (r *Registry) Open(ctx context.Context, matchID string) (*Session, error) {
	if s, ok := r.Get(matchID); ok {
		return s, nil
	}
	s := newSession(matchID, r.cfg, r.deps)
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.sessions[matchID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[matchID] = s
	first := r.active == ""
	r.mu.Unlock()

	s.start()
	telemetry.Metrics.ActiveSessions.Inc()
	if first {
		if err := r.SetActive(matchID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (r *Registry) Get(matchID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[matchID]
	return s, ok
}

// Active returns the session the operator is currently looking at.
func (r *Registry) Active() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[r.active]
	return s, ok
}

// SetActive switches the operator's focus. The previous match stops
// delivering and drops in-flight interest; its queue is kept.
func (r *Registry) SetActive(matchID string) error {
	r.mu.Lock()
	next, ok := r.sessions[matchID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("match %s is not open", matchID)
	}
	prev := r.sessions[r.active]
	r.active = matchID
	r.mu.Unlock()

	if prev != nil && prev != next {
		prev.Deactivate()
	}
	next.Activate()
	return nil
}

// Close stops a session and forgets it. Its outbox rows survive.
func (r *Registry) Close(matchID string) {
	r.mu.Lock()
	s, ok := r.sessions[matchID]
	delete(r.sessions, matchID)
	if r.active == matchID {
		r.active = ""
	}
	r.mu.Unlock()

	if ok {
		s.Close()
		telemetry.Metrics.ActiveSessions.Dec()
	}
}

func (r *Registry) CloseAll() {
	for _, s := range r.All() {
		r.Close(s.MatchID)
	}
}

// All returns a snapshot of all sessions. Safe for iteration.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// HandleAck routes an acknowledgment by match id.
func (r *Registry) HandleAck(ack queue.Ack) {
	if s, ok := r.Get(ack.MatchID); ok {
		s.HandleAck(ack)
		return
	}
	telemetry.Debugf("ack for closed match %s key=%s", ack.MatchID, ack.IdempotencyKey)
}

// HandleEvent routes a server-originated event by match id.
func (r *Registry) HandleEvent(ev match.MatchEvent) {
	if s, ok := r.Get(ev.MatchID); ok {
		s.HandleEvent(ev)
		return
	}
	telemetry.Debugf("event for closed match %s type=%s", ev.MatchID, ev.Type)
}

// SetConnected propagates the channel state to every session. On
// reconnect the active match backfills anything broadcast while offline.
func (r *Registry) SetConnected(ctx context.Context, up bool) {
	for _, s := range r.All() {
		s.SetConnected(up)
	}
	r.deps.Bus.Publish(events.Event{Type: events.EventConnection, Payload: events.ConnectionEvent{Connected: up}})
	if !up {
		return
	}
	if s, ok := r.Active(); ok {
		go func() {
			n, err := s.Backfill(ctx)
			if err != nil {
				telemetry.Warnf("match %s: backfill after reconnect: %v", s.MatchID, err)
				return
			}
			if n > 0 {
				telemetry.Infof("match %s: backfilled %d events", s.MatchID, n)
			}
		}()
	}
}

// QueuedEvents returns the active match's unresolved submissions.
func (r *Registry) QueuedEvents() []queue.Entry {
	if s, ok := r.Active(); ok {
		return s.Queue()
	}
	return nil
}

// QueuedEventsByMatch returns every open match's unresolved submissions.
// Matches with an empty queue are included with an empty slice.
func (r *Registry) QueuedEventsByMatch() map[string][]queue.Entry {
	out := make(map[string][]queue.Entry)
	for _, s := range r.All() {
		q := s.Queue()
		if q == nil {
			q = []queue.Entry{}
		}
		out[s.MatchID] = q
	}
	return out
}
