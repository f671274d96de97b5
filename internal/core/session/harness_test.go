package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/state/period"
	"github.com/charleschow/matchsync/internal/events"
)

var (
	analyst = match.SessionContext{Role: match.RoleAnalyst, UserID: "ana"}
	admin   = match.SessionContext{Role: match.RoleAdmin, UserID: "root"}
	viewer  = match.SessionContext{Role: match.RoleViewer, UserID: "vic"}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeServer plays both the event store and the realtime channel. Acks are
// delivered synchronously from Send.
type fakeServer struct {
	mu       sync.Mutex
	up       bool
	matches  map[string]MatchInfo
	logs     map[string][]match.MatchEvent
	nextID   int
	statuses []period.Status
	deleted  []string
	clocks   []period.ClockPatch
	refuse   bool

	acks func(queue.Ack)
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		up:      true,
		matches: make(map[string]MatchInfo),
		logs:    make(map[string][]match.MatchEvent),
	}
}

func (f *fakeServer) addMatch(id string, status period.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[id] = MatchInfo{MatchID: id, HomeTeamID: "H", AwayTeamID: "A", Status: status, ClockMode: period.ClockWall}
}

func (f *fakeServer) setUp(up bool) {
	f.mu.Lock()
	f.up = up
	f.mu.Unlock()
}

func (f *fakeServer) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeServer) Send(ctx context.Context, ev match.MatchEvent) error {
	f.mu.Lock()
	if !f.up {
		f.mu.Unlock()
		return match.ErrTransientSendFailure
	}
	ack := queue.Ack{MatchID: ev.MatchID, IdempotencyKey: ev.IdempotencyKey}
	if dup, ok := f.duplicateOf(ev); ok {
		ack.Status = queue.AckDuplicate
		ack.ServerEventID = dup
	} else {
		f.nextID++
		ev.ServerEventID = fmt.Sprintf("srv-%d", f.nextID)
		f.logs[ev.MatchID] = append(f.logs[ev.MatchID], ev)
		ack.Status = queue.AckSuccess
		ack.ServerEventID = ev.ServerEventID
	}
	deliver := f.acks
	f.mu.Unlock()

	if deliver != nil {
		deliver(ack)
	}
	return nil
}

func (f *fakeServer) duplicateOf(ev match.MatchEvent) (string, bool) {
	for _, s := range f.logs[ev.MatchID] {
		if s.IdempotencyKey == ev.IdempotencyKey {
			return s.ServerEventID, true
		}
		if s.SameAction(ev, 500) {
			return s.ServerEventID, true
		}
	}
	return "", false
}

func (f *fakeServer) GetMatch(ctx context.Context, matchID string) (MatchInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.matches[matchID]
	if !ok {
		return MatchInfo{}, fmt.Errorf("match %s not found", matchID)
	}
	return info, nil
}

func (f *fakeServer) ListEvents(ctx context.Context, matchID string, page, pageSize int) (EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.logs[matchID]
	from := (page - 1) * pageSize
	if from >= len(all) {
		return EventPage{}, nil
	}
	to := min(from+pageSize, len(all))
	return EventPage{Items: append([]match.MatchEvent(nil), all[from:to]...), HasNext: to < len(all)}, nil
}

func (f *fakeServer) PatchMatchStatus(ctx context.Context, matchID string, status period.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return &match.TransitionError{From: string(f.matches[matchID].Status), To: string(status), Reason: "refused by store"}
	}
	f.statuses = append(f.statuses, status)
	info := f.matches[matchID]
	info.Status = status
	f.matches[matchID] = info
	return nil
}

func (f *fakeServer) PatchClockMode(ctx context.Context, matchID string, patch period.ClockPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clocks = append(f.clocks, patch)
	return nil
}

func (f *fakeServer) DeleteEvent(ctx context.Context, matchID, serverEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	log := f.logs[matchID]
	for i, ev := range log {
		if ev.ServerEventID == serverEventID {
			f.logs[matchID] = append(log[:i:i], log[i+1:]...)
			f.deleted = append(f.deleted, serverEventID)
			return nil
		}
	}
	return fmt.Errorf("event %s not found", serverEventID)
}

func (f *fakeServer) stored(matchID string) []match.MatchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]match.MatchEvent(nil), f.logs[matchID]...)
}

type fakeValidator struct {
	verdict rules.SubstitutionVerdict
	calls   int
}

func (v *fakeValidator) ValidateSubstitution(ctx context.Context, req rules.SubstitutionRequest) (rules.SubstitutionVerdict, error) {
	v.calls++
	return v.verdict, nil
}

type harness struct {
	t      *testing.T
	server *fakeServer
	clock  *fakeClock
	bus    *events.Bus
	reg    *Registry

	mu   sync.Mutex
	seen []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, server: newFakeServer(), clock: newFakeClock(), bus: events.NewBus()}
	h.bus.Subscribe(func(e events.Event) error {
		h.mu.Lock()
		h.seen = append(h.seen, e)
		h.mu.Unlock()
		return nil
	}, events.AllTypes...)
	h.reg = h.newRegistry(nil)
	t.Cleanup(h.reg.CloseAll)
	return h
}

func (h *harness) newRegistry(v rules.SubstitutionValidator) *Registry {
	cfg := DefaultConfig()
	cfg.Queue = queue.Config{AckTimeout: time.Second, MaxRetries: 2, Backoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	cfg.PageSize = 2
	reg := NewRegistry(cfg, Deps{
		Channel:   h.server,
		Store:     h.server,
		Validator: v,
		Bus:       h.bus,
		Now:       h.clock.Now,
	})
	h.server.mu.Lock()
	h.server.acks = reg.HandleAck
	h.server.mu.Unlock()
	return reg
}

func (h *harness) open(matchID string, status period.Status) *Session {
	h.t.Helper()
	h.server.addMatch(matchID, status)
	s, err := h.reg.Open(context.Background(), matchID)
	if err != nil {
		h.t.Fatalf("Open(%s): %v", matchID, err)
	}
	return s
}

func (h *harness) published(t events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, e := range h.seen {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func view(t *testing.T, s *Session) View {
	t.Helper()
	v, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return v
}

func waitView(t *testing.T, s *Session, what string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		v := view(t, s)
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func drained(v View) bool { return len(v.Queue) == 0 }

func logEvent(t *testing.T, s *Session, ev match.MatchEvent) queue.Entry {
	t.Helper()
	e, err := s.LogEvent(context.Background(), analyst, ev)
	if err != nil {
		t.Fatalf("LogEvent(%s %s): %v", ev.Type, ev.MatchClock, err)
	}
	return e
}

func pass(team, player, clock string) match.MatchEvent {
	return match.MatchEvent{TeamID: team, PlayerID: player, Type: match.EventPass, MatchClock: match.MustClock(clock)}
}

func shot(team, player, clock, outcome string) match.MatchEvent {
	return match.MatchEvent{TeamID: team, PlayerID: player, Type: match.EventShot, MatchClock: match.MustClock(clock),
		Data: match.EventData{Outcome: outcome}}
}

func card(team, player, clock string, ct match.CardType) match.MatchEvent {
	return match.MatchEvent{TeamID: team, PlayerID: player, Type: match.EventCard, MatchClock: match.MustClock(clock),
		Data: match.EventData{CardType: ct}}
}

func stop(team, clock string, st match.StoppageType, trigger match.TriggerAction) match.MatchEvent {
	return match.MatchEvent{TeamID: team, Type: match.EventGameStoppage, MatchClock: match.MustClock(clock),
		Data: match.EventData{StoppageType: st, TriggerAction: trigger}}
}
