package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charleschow/matchsync/internal/core/analytics"
	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/core/reconcile"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/state/period"
	"github.com/charleschow/matchsync/internal/core/stoppage"
	"github.com/charleschow/matchsync/internal/events"
	"github.com/charleschow/matchsync/internal/telemetry"
)

var ErrClosed = errors.New("session closed")

// Session is the single source of truth for one match.
//
// All state mutations are serialized through an inbox channel: one
// goroutine drains it, so no field below the inbox needs a mutex. Remote
// calls (store patches, substitution validation, paging) run on the
// caller's goroutine and post their results back.
type Session struct {
	MatchID string

	cfg  Config
	deps Deps
	log  *slog.Logger

	machine  *period.Machine
	resolver *reconcile.Resolver
	queue    *queue.Manager
	lineup   rules.Lineup
	budgets  map[string]rules.Budget

	// derived from the resolver's canonical log on every change
	disc      rules.Discipline
	stops     stoppage.Aggregates
	expelled  map[string]bool
	active    bool
	connected bool

	// interest is cancelled when the session is deactivated, dropping any
	// validation or acknowledgment wait started while it was active.
	interest       context.Context
	cancelInterest context.CancelFunc

	inbox chan func()
	quit  chan struct{}
	stop  chan struct{}
	once  sync.Once
}

func newSession(matchID string, cfg Config, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	s := &Session{
		MatchID:   matchID,
		cfg:       cfg,
		deps:      deps,
		log:       telemetry.Match(matchID),
		machine:   period.NewMachine(cfg.Limits, deps.Now),
		resolver:  reconcile.NewResolver(cfg.DuplicateTolerance, deps.Now),
		budgets:   make(map[string]rules.Budget),
		expelled:  make(map[string]bool),
		connected: deps.Channel.Connected(),
		inbox:     make(chan func(), cfg.InboxSize),
		quit:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	s.interest, s.cancelInterest = context.WithCancel(context.Background())
	opts := []queue.Option{queue.WithNotify(s.onEntry)}
	if deps.Outbox != nil {
		opts = append(opts, queue.WithOutbox(deps.Outbox))
	}
	s.queue = queue.NewManager(matchID, deps.Channel, cfg.Queue, opts...)
	s.queue.SetActive(false)
	return s
}

func (s *Session) run() {
	defer close(s.stop)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.quit:
			return
		}
	}
}

// Send enqueues a closure to run on the session's goroutine. It waits for
// room rather than dropping, since closures carry user actions and
// acknowledgments. After Close it is a no-op.
func (s *Session) Send(fn func()) {
	select {
	case s.inbox <- fn:
		return
	case <-s.quit:
		return
	default:
	}
	telemetry.Metrics.InboxOverflows.Inc()
	s.log.Warn("inbox full, waiting", "cap", cap(s.inbox))
	select {
	case s.inbox <- fn:
	case <-s.quit:
	}
}

// call runs fn on the session goroutine and waits for it to finish.
func (s *Session) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.inbox <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stop:
		return ErrClosed
	}
}

// Close shuts down the delivery loop and the session goroutine. Queued
// entries stay in the outbox.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.quit)
		s.queue.Close()
		<-s.stop
		s.cancelInterest()
	})
}

// load restores the match header, lineup, persisted log and outbox. It
// runs before the session goroutine starts.
func (s *Session) load(ctx context.Context) error {
	info, err := s.deps.Store.GetMatch(ctx, s.MatchID)
	if err != nil {
		return fmt.Errorf("get match %s: %w", s.MatchID, err)
	}
	if s.deps.Roster != nil {
		lineup, err := s.deps.Roster.Lineup(ctx, s.MatchID)
		if err != nil {
			s.log.Warn("lineup unavailable, squad checks disabled", "error", err)
		} else {
			s.lineup = lineup
		}
	}
	if s.lineup.HomeTeamID == "" {
		s.lineup.HomeTeamID = info.HomeTeamID
	}
	if s.lineup.AwayTeamID == "" {
		s.lineup.AwayTeamID = info.AwayTeamID
	}
	for _, team := range []string{s.lineup.HomeTeamID, s.lineup.AwayTeamID} {
		if _, ok := s.budgets[team]; !ok && team != "" {
			s.budgets[team] = s.cfg.Substitutions.Budget(team)
		}
	}
	if info.Status.Valid() {
		s.machine.Restore(info.Status, info.MatchTimeSeconds)
	}
	if info.ClockMode != "" {
		s.machine.SetMode(info.ClockMode)
	}

	items, err := s.fetchLog(ctx)
	if err != nil {
		return err
	}
	for _, ev := range items {
		s.resolver.Apply(ev)
	}

	n, err := s.queue.RestoreOutbox()
	if err != nil {
		s.log.Warn("outbox restore failed", "error", err)
	}
	for _, e := range s.queue.Snapshot() {
		s.resolver.Apply(e.Event)
		if e.Status == queue.StatusFailed {
			s.resolver.MarkFailed(e.Key(), e.LastError)
		}
	}
	s.recompute()
	telemetry.Plainf("match %s: loaded status=%s events=%d outbox=%d", s.MatchID, s.machine.Status(), len(items), n)
	return nil
}

func (s *Session) start() {
	go s.run()
	s.queue.Start()
}

func (s *Session) fetchLog(ctx context.Context) ([]match.MatchEvent, error) {
	var out []match.MatchEvent
	for page := 1; ; page++ {
		p, err := s.deps.Store.ListEvents(ctx, s.MatchID, page, s.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list events %s page %d: %w", s.MatchID, page, err)
		}
		out = append(out, p.Items...)
		if !p.HasNext || len(p.Items) == 0 {
			return out, nil
		}
	}
}

// Backfill re-lists the persisted log and merges anything missed, e.g.
// ingestion events broadcast while the channel was down.
func (s *Session) Backfill(ctx context.Context) (int, error) {
	items, err := s.fetchLog(ctx)
	if err != nil {
		return 0, err
	}
	added := 0
	err = s.call(ctx, func() {
		for _, ev := range items {
			if s.resolver.Apply(ev) != reconcile.OutcomeMerged {
				added++
			}
		}
		if added > 0 {
			s.changed()
		}
	})
	return added, err
}

// Activate resumes delivery and remote interest for this match.
func (s *Session) Activate() {
	s.Send(func() {
		if !s.active {
			s.active = true
			s.cancelInterest()
			s.interest, s.cancelInterest = context.WithCancel(context.Background())
		}
		s.queue.SetActive(true)
		s.changed()
	})
}

// Deactivate drops interest in in-flight validation and acks. The queue
// is kept and resumes on Activate. Delivery pauses before this returns.
func (s *Session) Deactivate() {
	s.queue.SetActive(false)
	s.Send(func() {
		if s.active {
			s.active = false
			s.cancelInterest()
		}
		s.queue.SetActive(false)
		s.changed()
	})
}

func (s *Session) SetConnected(up bool) {
	s.queue.SetConnected(up)
	s.Send(func() {
		s.connected = up
		s.changed()
	})
}

// interestCtx ties a remote call to both the caller and the session's
// active period. Must be called on the session goroutine.
func (s *Session) interestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.interest, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// LogEvent validates a draft against the current state and rules, assigns
// its idempotency key, inserts it optimistically and enqueues it.
func (s *Session) LogEvent(ctx context.Context, sc match.SessionContext, draft match.MatchEvent) (queue.Entry, error) {
	var (
		entry queue.Entry
		err   error
	)
	if cerr := s.call(ctx, func() { entry, err = s.logEvent(sc, draft) }); cerr != nil {
		return queue.Entry{}, cerr
	}
	return entry, err
}

func (s *Session) logEvent(sc match.SessionContext, ev match.MatchEvent) (queue.Entry, error) {
	if !sc.CanLogEvents() {
		return queue.Entry{}, fmt.Errorf("log event as %s: %w", sc.Role, match.ErrForbidden)
	}
	ev, err := s.prepare(ev)
	if err != nil {
		telemetry.Metrics.EventsRejected.Inc()
		return queue.Entry{}, err
	}

	if s.resolver.Apply(ev) == reconcile.OutcomeDuplicate {
		s.publishBanner()
	}
	entry := s.queue.Enqueue(ev)
	telemetry.Metrics.EventsLogged.Inc()
	s.log.Debug("event logged", "key", ev.IdempotencyKey, "type", ev.Type, "clock", ev.MatchClock)
	s.changed()
	return entry, nil
}

// prepare fills defaults and runs every local check. Must be called on the
// session goroutine.
func (s *Session) prepare(ev match.MatchEvent) (match.MatchEvent, error) {
	if ev.MatchID == "" {
		ev.MatchID = s.MatchID
	}
	if ev.MatchID != s.MatchID {
		return ev, &match.ValidationError{Field: "match_id", Msg: fmt.Sprintf("event for %s logged on %s", ev.MatchID, s.MatchID)}
	}
	status := s.machine.Status()
	if ev.Period == 0 {
		ev.Period = status.Period()
	}
	if !status.Accepts(ev.Type) {
		return ev, &match.ValidationError{Field: "type", Msg: fmt.Sprintf("%s cannot be logged while %s", ev.Type, status)}
	}
	if ev.SourceOrigin == "" {
		ev.SourceOrigin = match.OriginOperatorLive
	}
	if ev.Type.Neutral() && ev.TeamID == "" {
		ev.TeamID = match.NeutralTeam
	}
	if err := match.ValidateEvent(ev); err != nil {
		return ev, err
	}
	if err := rules.CheckEligible(ev, s.disc, s.lineup); err != nil {
		return ev, err
	}
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = reconcile.NewKey()
	}
	ev.ServerEventID = ""
	ev.SubmittedAt = s.deps.Now().UTC()
	return ev, nil
}

// SubstitutionDraft is an in-progress substitution selection.
type SubstitutionDraft struct {
	TeamID       string
	PlayerOff    string
	PlayerOn     string
	IsConcussion bool
	Period       int
	MatchClock   match.Clock
}

// Substitute checks the selection locally, asks the remote rule service,
// and on a valid verdict logs the Substitution event. A violation comes
// back as *match.SubstitutionViolation with the team's current budget and
// nothing is logged, so the caller can keep the selection.
func (s *Session) Substitute(ctx context.Context, sc match.SessionContext, d SubstitutionDraft) (queue.Entry, rules.SubstitutionVerdict, error) {
	req := rules.SubstitutionRequest{
		MatchID:      s.MatchID,
		TeamID:       d.TeamID,
		PlayerOff:    d.PlayerOff,
		PlayerOn:     d.PlayerOn,
		IsConcussion: d.IsConcussion,
	}
	draft := match.MatchEvent{
		MatchID:    s.MatchID,
		Period:     d.Period,
		MatchClock: d.MatchClock,
		TeamID:     d.TeamID,
		PlayerID:   d.PlayerOff,
		Type:       match.EventSubstitution,
		Data:       match.EventData{PlayerOn: d.PlayerOn, IsConcussion: d.IsConcussion},
	}

	var (
		checkErr error
		rctx     context.Context
		release  context.CancelFunc = func() {}
	)
	err := s.call(ctx, func() {
		if !sc.CanLogEvents() {
			checkErr = fmt.Errorf("substitute as %s: %w", sc.Role, match.ErrForbidden)
			return
		}
		if _, err := s.prepare(draft); err != nil {
			checkErr = err
			return
		}
		if err := rules.CheckSubstitutionLocal(req, s.disc); err != nil {
			checkErr = err
			return
		}
		rctx, release = s.interestCtx(ctx)
	})
	if err != nil {
		return queue.Entry{}, rules.SubstitutionVerdict{}, err
	}
	if checkErr != nil {
		telemetry.Metrics.EventsRejected.Inc()
		return queue.Entry{}, rules.SubstitutionVerdict{}, checkErr
	}
	defer release()

	verdict := rules.SubstitutionVerdict{IsValid: true}
	if s.deps.Validator != nil {
		verdict, err = rules.ValidateSubstitution(rctx, s.deps.Validator, req)
		if verdict.TeamStatus.MaxSubstitutions > 0 {
			ts := verdict.TeamStatus
			s.Send(func() {
				s.budgets[d.TeamID] = rules.BudgetFromStatus(d.TeamID, ts)
			})
		}
		if err != nil {
			return queue.Entry{}, verdict, err
		}
	}

	var entry queue.Entry
	err = s.call(ctx, func() {
		entry, checkErr = s.logEvent(sc, draft)
		if checkErr == nil && verdict.TeamStatus.MaxSubstitutions > 0 {
			s.budgets[d.TeamID] = rules.BudgetFromStatus(d.TeamID, verdict.TeamStatus).Applied(verdict, d.IsConcussion)
			s.changed()
		}
	})
	if err != nil {
		return queue.Entry{}, verdict, err
	}
	return entry, verdict, checkErr
}

// Transition moves the period state machine. The store is asked first; a
// refusal leaves local state untouched. override bypasses minimum-time
// gates and needs the admin role.
func (s *Session) Transition(ctx context.Context, sc match.SessionContext, target period.Status, override bool) (period.Snapshot, error) {
	var (
		from     period.Status
		checkErr error
	)
	err := s.call(ctx, func() {
		switch {
		case !sc.CanTransition():
			checkErr = fmt.Errorf("transition as %s: %w", sc.Role, match.ErrForbidden)
		case override && !sc.CanOverride():
			checkErr = fmt.Errorf("override gate as %s: %w", sc.Role, match.ErrForbidden)
		default:
			from = s.machine.Status()
			checkErr = s.machine.Check(target, override)
		}
	})
	if err != nil {
		return period.Snapshot{}, err
	}
	if checkErr != nil {
		return period.Snapshot{}, checkErr
	}

	if err := s.deps.Store.PatchMatchStatus(ctx, s.MatchID, target); err != nil {
		return period.Snapshot{}, fmt.Errorf("patch status %s -> %s: %w", from, target, err)
	}

	var (
		patch period.ClockPatch
		snap  period.Snapshot
	)
	err = s.call(ctx, func() {
		patch, checkErr = s.machine.Transition(target, override)
		if checkErr != nil {
			return
		}
		snap = s.machine.Snapshot()
		if target == period.StatusLiveExtraFirst {
			for team, b := range s.budgets {
				s.budgets[team] = s.cfg.Substitutions.ExtraTime(b)
			}
		}
		telemetry.Metrics.Transitions.Inc()
		s.publish(events.EventTransition, events.TransitionEvent{
			MatchID: s.MatchID, From: string(from), To: string(target), Override: override,
		})
		s.changed()
	})
	if err != nil {
		return period.Snapshot{}, err
	}
	if checkErr != nil {
		return period.Snapshot{}, checkErr
	}
	telemetry.Infof("match %s: %s -> %s", s.MatchID, from, target)

	if err := s.deps.Store.PatchClockMode(ctx, s.MatchID, patch); err != nil {
		s.log.Warn("clock patch after transition failed", "error", err)
	}
	return snap, nil
}

// SetClockMode switches wall/effective mode and persists the clock.
func (s *Session) SetClockMode(ctx context.Context, sc match.SessionContext, mode period.ClockMode) error {
	if mode != period.ClockWall && mode != period.ClockEffective {
		return &match.ValidationError{Field: "clock_mode", Msg: fmt.Sprintf("unknown mode %q", mode)}
	}
	var (
		patch    period.ClockPatch
		checkErr error
	)
	err := s.call(ctx, func() {
		if !sc.CanTransition() {
			checkErr = fmt.Errorf("set clock mode as %s: %w", sc.Role, match.ErrForbidden)
			return
		}
		patch = s.machine.SetMode(mode)
		s.changed()
	})
	if err != nil {
		return err
	}
	if checkErr != nil {
		return checkErr
	}
	return s.deps.Store.PatchClockMode(ctx, s.MatchID, patch)
}

// ToggleEffective flips the effective-time sub-timer and reports whether
// it is now wanted.
func (s *Session) ToggleEffective(ctx context.Context, sc match.SessionContext) (bool, error) {
	var (
		on       bool
		checkErr error
	)
	err := s.call(ctx, func() {
		if !sc.CanTransition() {
			checkErr = fmt.Errorf("toggle effective time as %s: %w", sc.Role, match.ErrForbidden)
			return
		}
		on = s.machine.ToggleEffective()
		s.changed()
	})
	if err != nil {
		return false, err
	}
	return on, checkErr
}

// SyncMatchTime applies a server-authoritative clock reading.
func (s *Session) SyncMatchTime(seconds float64) {
	s.Send(func() {
		s.machine.SyncMatchTime(seconds)
		s.changed()
	})
}

// Tick republishes the view so clocks on viewers keep moving.
func (s *Session) Tick() {
	s.Send(func() {
		if s.machine.Status().Live() {
			s.changed()
		}
	})
}

// UndoLastEvent removes the most recent event logged from this side.
// Unsent events are pulled from the queue; persisted ones are deleted
// from the store first.
func (s *Session) UndoLastEvent(ctx context.Context, sc match.SessionContext) (match.MatchEvent, error) {
	var (
		ev       match.MatchEvent
		checkErr error
		done     bool
	)
	err := s.call(ctx, func() {
		if !sc.CanUndo() {
			checkErr = fmt.Errorf("undo as %s: %w", sc.Role, match.ErrForbidden)
			return
		}
		last, ok := s.resolver.LastLocal()
		if !ok {
			checkErr = match.ErrNothingToUndo
			return
		}
		ev = last
		_, qerr := s.queue.Cancel(last.IdempotencyKey)
		switch {
		case qerr == nil:
			s.resolver.Remove(last.IdempotencyKey, s.queue.Has)
			s.undone(last)
			done = true
		case errors.Is(qerr, queue.ErrInFlight):
			checkErr = fmt.Errorf("undo %s: %w", last.IdempotencyKey, qerr)
		case last.ServerEventID == "":
			checkErr = fmt.Errorf("undo %s: not yet persisted", last.IdempotencyKey)
		}
	})
	if err != nil {
		return match.MatchEvent{}, err
	}
	if checkErr != nil || done {
		return ev, checkErr
	}

	if err := s.deps.Store.DeleteEvent(ctx, s.MatchID, ev.ServerEventID); err != nil {
		return ev, fmt.Errorf("delete event %s: %w", ev.ServerEventID, err)
	}
	err = s.call(ctx, func() {
		s.resolver.Remove(ev.IdempotencyKey, s.queue.Has)
		s.undone(ev)
	})
	return ev, err
}

func (s *Session) undone(ev match.MatchEvent) {
	telemetry.Metrics.Undos.Inc()
	s.log.Info("event undone", "key", ev.IdempotencyKey, "type", ev.Type)
	s.changed()
}

// HandleAck applies an acknowledgment from the realtime channel.
func (s *Session) HandleAck(ack queue.Ack) {
	if s.queue.HandleAck(ack) {
		return
	}
	// No queue entry: the submission was answered after a reload or was
	// already settled. The timeline still takes the server's word.
	s.Send(func() {
		s.resolver.Acknowledge(ack.IdempotencyKey, reconcile.AckStatus(ack.Status), ack.ServerEventID, ack.ErrorDetail)
		s.changed()
	})
}

// HandleEvent merges a server-originated event (broadcast echo of our own
// submission, or an ingestion/harness event from elsewhere).
func (s *Session) HandleEvent(ev match.MatchEvent) {
	s.Send(func() {
		switch s.resolver.Apply(ev) {
		case reconcile.OutcomeConflict:
			telemetry.Metrics.ConflictsRaised.Inc()
			for _, c := range s.resolver.Conflicts() {
				if c.Duplicate.ServerEventID == ev.ServerEventID {
					s.publish(events.EventConflict, events.ConflictEvent{
						MatchID:    s.MatchID,
						ConflictID: c.ID,
						EventType:  string(ev.Type),
						Clock:      ev.MatchClock.String(),
						Canonical:  c.Canonical.ServerEventID,
						Duplicate:  c.Duplicate.ServerEventID,
					})
				}
			}
		case reconcile.OutcomeDuplicate:
			s.publishBanner()
		}
		s.changed()
	})
}

// onEntry runs on the queue goroutine for every delivery state change.
func (s *Session) onEntry(e queue.Entry) {
	s.Send(func() {
		switch e.Status {
		case queue.StatusAcknowledged:
			s.resolver.Acknowledge(e.Key(), reconcile.AckSuccess, e.ServerEventID, "")
		case queue.StatusDuplicate:
			s.resolver.Acknowledge(e.Key(), reconcile.AckDuplicate, e.ServerEventID, "")
			s.publishBanner()
		case queue.StatusFailed:
			s.resolver.MarkFailed(e.Key(), e.LastError)
		}
		s.publish(events.EventEntryStatus, events.EntryStatusEvent{
			MatchID:        s.MatchID,
			IdempotencyKey: e.Key(),
			Status:         string(e.Status),
			RetryCount:     e.RetryCount,
			ServerEventID:  e.ServerEventID,
			Error:          e.LastError,
		})
		s.changed()
	})
}

func (s *Session) DismissBanner(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.call(ctx, func() {
		if ok = s.resolver.DismissBanner(id); ok {
			s.changed()
		}
	})
	return ok, err
}

// ResolveConflict closes a cross-source conflict. keepBoth reinstates the
// hidden copy as a distinct occurrence.
func (s *Session) ResolveConflict(ctx context.Context, sc match.SessionContext, id string, keepBoth bool) error {
	if !sc.CanResolveConflicts() {
		return fmt.Errorf("resolve conflict as %s: %w", sc.Role, match.ErrForbidden)
	}
	var found bool
	err := s.call(ctx, func() {
		if _, found = s.resolver.ResolveConflict(id, keepBoth); found {
			s.changed()
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("conflict %s not found", id)
	}
	return nil
}

// RetryFailed puts a failed submission back in line.
func (s *Session) RetryFailed(ctx context.Context, sc match.SessionContext, key string) error {
	if !sc.CanLogEvents() {
		return fmt.Errorf("retry as %s: %w", sc.Role, match.ErrForbidden)
	}
	var qerr error
	err := s.call(ctx, func() {
		if qerr = s.queue.Retry(key); qerr == nil {
			s.resolver.Reinstate(key)
			s.changed()
		}
	})
	if err != nil {
		return err
	}
	return qerr
}

// DiscardFailed drops a failed submission from the queue and timeline.
func (s *Session) DiscardFailed(ctx context.Context, sc match.SessionContext, key string) error {
	if !sc.CanLogEvents() {
		return fmt.Errorf("discard as %s: %w", sc.Role, match.ErrForbidden)
	}
	var qerr error
	err := s.call(ctx, func() {
		if _, qerr = s.queue.Discard(key); qerr == nil {
			s.resolver.Remove(key, s.queue.Has)
			s.changed()
		}
	})
	if err != nil {
		return err
	}
	return qerr
}

// Queue returns the match's unresolved submissions in order.
func (s *Session) Queue() []queue.Entry { return s.queue.Snapshot() }

// Snapshot builds the full view on the session goroutine.
func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	err := s.call(ctx, func() {
		s.recompute()
		v = s.view()
	})
	return v, err
}

// recompute rebuilds every derived value from the canonical log. Must be
// called on the session goroutine.
func (s *Session) recompute() {
	log := s.resolver.Events()
	s.disc = rules.DeriveDiscipline(log)
	s.stops = stoppage.Fold(log, match.ClockFromSeconds(s.machine.MatchTimeSeconds()))
	s.machine.SyncVAR(s.stops.Overall.VAR, s.stops.VAROpen)
}

func (s *Session) analytics(log []match.MatchEvent) analytics.Analytics {
	return analytics.Project(analytics.Input{
		Events:         log,
		HomeTeamID:     s.lineup.HomeTeamID,
		AwayTeamID:     s.lineup.AwayTeamID,
		Discipline:     s.disc,
		Stoppages:      s.stops,
		ElapsedSeconds: s.machine.MatchTimeSeconds(),
	})
}

// changed recomputes derived state and publishes the new view.
func (s *Session) changed() {
	s.recompute()
	for pid, ps := range s.disc.Players {
		if ps.IsExpelled && !s.expelled[pid] {
			s.expelled[pid] = true
			s.publish(events.EventExpelled, events.ExpelledEvent{
				MatchID: s.MatchID, TeamID: ps.TeamID, PlayerID: pid, Yellow: ps.YellowCount, Red: ps.RedCount,
			})
		} else if !ps.IsExpelled && s.expelled[pid] {
			delete(s.expelled, pid)
		}
	}
	if s.deps.Bus != nil {
		s.publish(events.EventSnapshot, s.view())
	}
}

// publishBanner announces the most recently raised banner.
func (s *Session) publishBanner() {
	banners := s.resolver.Banners()
	if len(banners) == 0 {
		return
	}
	b := banners[len(banners)-1]
	s.publish(events.EventBanner, events.BannerEvent{
		MatchID: s.MatchID, BannerID: b.ID, Key: b.Key, Canonical: b.Canonical, Message: b.Message,
	})
}

func (s *Session) publish(t events.EventType, payload any) {
	s.deps.Bus.Publish(events.Event{
		ID:        uuid.NewString(),
		Type:      t,
		MatchID:   s.MatchID,
		Timestamp: s.deps.Now().UTC(),
		Payload:   payload,
	})
}
