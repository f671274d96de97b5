package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/telemetry"
)

var (
	ErrUnknownEntry = errors.New("queue entry not found")
	ErrNotFailed    = errors.New("queue entry is not in the failed state")
	ErrInFlight     = errors.New("queue entry is awaiting acknowledgment")
)

type Config struct {
	AckTimeout time.Duration // wait per send before counting a transient failure
	MaxRetries int           // automatic retries before an entry is failed
	Backoff    time.Duration // first retry delay, doubled per attempt
	MaxBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		AckTimeout: 10 * time.Second,
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: 8 * time.Second,
	}
}

func (c Config) backoff(attempt int) time.Duration {
	d := c.Backoff
	for i := 1; i < attempt && d < c.MaxBackoff; i++ {
		d *= 2
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

type Option func(*Manager)

// WithOutbox persists every entry change.
func WithOutbox(o Outbox) Option { return func(m *Manager) { m.outbox = o } }

// WithNotify registers a callback for every entry status change. It runs on
// the queue's goroutine and must not block.
func WithNotify(fn func(Entry)) Option { return func(m *Manager) { m.notify = fn } }

type inflight struct {
	key    string
	acks   chan Ack
	cancel context.CancelFunc
}

// Manager delivers one match's submissions over the channel strictly in
// submission order: one entry in flight, the next only after the head is
// acknowledged. A head that fails stops delivery until it is retried or
// discarded.
type Manager struct {
	matchID string
	ch      Channel
	cfg     Config
	outbox  Outbox
	notify  func(Entry)
	log     *slog.Logger

	mu        sync.Mutex
	entries   []*Entry
	seq       int64
	connected bool
	active    bool
	inflight  *inflight
	timer     *time.Timer

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(matchID string, ch Channel, cfg Config, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		matchID:   matchID,
		ch:        ch,
		cfg:       cfg,
		log:       telemetry.Match(matchID),
		connected: ch.Connected(),
		active:    true,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start launches the delivery loop.
func (m *Manager) Start() {
	go m.run()
	m.poke()
}

func (m *Manager) Close() {
	m.cancel()
	<-m.done
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
}

func (m *Manager) MatchID() string { return m.matchID }

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}
		for m.ctx.Err() == nil && m.step() {
		}
	}
}

// step delivers the head entry and reports whether the next one may go.
func (m *Manager) step() bool {
	m.mu.Lock()
	if !m.active || !m.connected || m.inflight != nil {
		m.mu.Unlock()
		return false
	}
	e := m.head()
	if e == nil {
		m.mu.Unlock()
		return false
	}
	if wait := time.Until(e.nextAttempt); wait > 0 {
		m.schedule(wait)
		m.mu.Unlock()
		return false
	}
	e.Status = StatusPending
	e.nextAttempt = time.Time{}
	ctx, cancel := context.WithCancel(m.ctx)
	fl := &inflight{key: e.Key(), acks: make(chan Ack, 1), cancel: cancel}
	m.inflight = fl
	ev := e.Event
	m.persist(e)
	m.mu.Unlock()
	defer cancel()

	sent := time.Now()
	if err := m.ch.Send(ctx, ev); err != nil {
		switch {
		case ctx.Err() != nil:
			m.interrupted(fl.key)
			return false
		case errors.Is(err, match.ErrValidationRejected):
			m.finish(fl.key, StatusFailed, "", err.Error())
			return true
		default:
			return m.retry(fl.key, err)
		}
	}

	timer := time.NewTimer(m.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case ack := <-fl.acks:
		telemetry.Metrics.AckLatency.Record(time.Since(sent))
		return m.settle(fl.key, ack)
	case <-timer.C:
		telemetry.Metrics.AckTimeouts.Inc()
		return m.retry(fl.key, fmt.Errorf("%w: no ack within %s", match.ErrTransientSendFailure, m.cfg.AckTimeout))
	case <-ctx.Done():
		m.interrupted(fl.key)
		return false
	}
}

func (m *Manager) settle(key string, ack Ack) bool {
	switch ack.Status {
	case AckSuccess:
		m.finish(key, StatusAcknowledged, ack.ServerEventID, "")
	case AckDuplicate:
		telemetry.Metrics.AcksDuplicate.Inc()
		m.finish(key, StatusDuplicate, ack.ServerEventID, "")
	default:
		if ack.Retryable {
			return m.retry(key, fmt.Errorf("%w: %s", match.ErrTransientSendFailure, ack.ErrorDetail))
		}
		m.finish(key, StatusFailed, "", ack.ErrorDetail)
	}
	return true
}

// head is the oldest entry still owed a delivery. A failed entry halts
// delivery until it is retried or discarded, so nothing behind it is sent
// out of order.
func (m *Manager) head() *Entry {
	for _, e := range m.entries {
		switch e.Status {
		case StatusAcknowledged, StatusDuplicate:
			continue
		case StatusFailed:
			return nil
		}
		return e
	}
	return nil
}

// Blocked reports whether a failed entry is holding back the queue.
func (m *Manager) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked()
}

func (m *Manager) blocked() bool {
	for _, e := range m.entries {
		if e.Status == StatusFailed {
			return true
		}
	}
	return false
}

func (m *Manager) schedule(d time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(d, m.poke)
}

func (m *Manager) clearInflight(key string) {
	if m.inflight != nil && m.inflight.key == key {
		m.inflight = nil
	}
}

func (m *Manager) finish(key string, status LocalStatus, serverID, detail string) {
	m.mu.Lock()
	m.clearInflight(key)
	i := m.index(key)
	if i < 0 {
		m.mu.Unlock()
		m.poke()
		return
	}
	e := m.entries[i]
	e.Status = status
	e.LastError = detail
	if serverID != "" {
		e.ServerEventID = serverID
	}
	var held []Entry
	if status == StatusFailed {
		telemetry.Metrics.SendFailures.Inc()
		m.log.Warn("submission failed, holding queue", "key", key, "error", detail)
		m.persist(e)
		for _, later := range m.entries[i+1:] {
			if later.Status == StatusPending {
				later.Status = StatusQueued
				m.persist(later)
				held = append(held, *later)
			}
		}
	} else {
		m.drop(i)
	}
	out := *e
	m.mu.Unlock()

	m.emit(out)
	for _, h := range held {
		m.emit(h)
	}
	m.poke()
}

func (m *Manager) retry(key string, cause error) bool {
	m.mu.Lock()
	m.clearInflight(key)
	e := m.find(key)
	if e == nil {
		m.mu.Unlock()
		return true
	}
	e.RetryCount++
	e.LastError = cause.Error()
	if e.RetryCount > m.cfg.MaxRetries {
		m.mu.Unlock()
		m.finish(key, StatusFailed, "", cause.Error())
		return true
	}
	telemetry.Metrics.SendRetries.Inc()
	wait := m.cfg.backoff(e.RetryCount)
	e.Status = StatusQueued
	e.nextAttempt = time.Now().Add(wait)
	m.persist(e)
	m.schedule(wait)
	out := *e
	m.mu.Unlock()

	m.log.Debug("submission retry scheduled", "key", key, "attempt", out.RetryCount, "wait", wait)
	m.emit(out)
	return false
}

func (m *Manager) interrupted(key string) {
	defer m.poke()
	m.mu.Lock()
	m.clearInflight(key)
	e := m.find(key)
	if e == nil || e.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	e.Status = StatusQueued
	m.persist(e)
	out := *e
	m.mu.Unlock()
	m.emit(out)
}

func (m *Manager) emit(e Entry) {
	if m.notify != nil {
		m.notify(e)
	}
}

// Enqueue adds an event behind everything already queued for this match.
// Enqueueing a key that is already present returns the existing entry.
func (m *Manager) Enqueue(ev match.MatchEvent) Entry {
	m.mu.Lock()
	if e := m.find(ev.IdempotencyKey); e != nil {
		out := *e
		m.mu.Unlock()
		return out
	}
	m.seq++
	status := StatusQueued
	if m.connected && m.active && !m.blocked() {
		status = StatusPending
	}
	e := &Entry{Event: ev, Status: status, SubmittedAt: time.Now().UTC(), Seq: m.seq}
	m.entries = append(m.entries, e)
	telemetry.Metrics.QueueDepth.Inc()
	m.persist(e)
	out := *e
	m.mu.Unlock()

	m.poke()
	return out
}

// HandleAck routes an acknowledgment to its entry. It reports false when
// no entry for the key exists.
func (m *Manager) HandleAck(ack Ack) bool {
	m.mu.Lock()
	if fl := m.inflight; fl != nil && fl.key == ack.IdempotencyKey {
		select {
		case fl.acks <- ack:
		default:
		}
		m.mu.Unlock()
		return true
	}
	e := m.find(ack.IdempotencyKey)
	m.mu.Unlock()
	if e == nil {
		return false
	}

	// The send already timed out; the store still answered.
	if ack.Status == AckError && ack.Retryable {
		return true
	}
	m.settle(ack.IdempotencyKey, ack)
	return true
}

// SetConnected tracks the channel state. Going down returns every pending
// entry to queued without charging a retry; coming up flushes at once.
func (m *Manager) SetConnected(up bool) {
	m.mu.Lock()
	m.connected = up
	changed := m.requeue(!up)
	if up {
		for _, e := range m.entries {
			e.nextAttempt = time.Time{}
		}
	}
	m.mu.Unlock()

	for _, e := range changed {
		m.emit(e)
	}
	if up {
		m.poke()
	}
}

// SetActive pauses or resumes delivery. Pausing drops interest in the
// in-flight ack but keeps every entry.
func (m *Manager) SetActive(active bool) {
	m.mu.Lock()
	m.active = active
	if !active && m.inflight != nil {
		m.inflight.cancel()
	}
	m.mu.Unlock()
	if active {
		m.poke()
	}
}

func (m *Manager) requeue(down bool) []Entry {
	if !down {
		return nil
	}
	if m.inflight != nil {
		m.inflight.cancel()
	}
	var changed []Entry
	for _, e := range m.entries {
		if e.Status == StatusPending {
			e.Status = StatusQueued
			m.persist(e)
			changed = append(changed, *e)
		}
	}
	return changed
}

// Cancel removes an entry that has not been answered. An entry currently
// awaiting its ack cannot be recalled.
func (m *Manager) Cancel(key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight != nil && m.inflight.key == key {
		return Entry{}, ErrInFlight
	}
	i := m.index(key)
	if i < 0 {
		return Entry{}, ErrUnknownEntry
	}
	out := *m.entries[i]
	m.drop(i)
	m.poke()
	return out, nil
}

// Retry puts a failed entry back in line with a fresh retry budget.
func (m *Manager) Retry(key string) error {
	m.mu.Lock()
	e := m.find(key)
	if e == nil {
		m.mu.Unlock()
		return ErrUnknownEntry
	}
	if e.Status != StatusFailed {
		m.mu.Unlock()
		return ErrNotFailed
	}
	e.Status = StatusQueued
	e.RetryCount = 0
	e.LastError = ""
	e.nextAttempt = time.Time{}
	m.persist(e)
	out := *e
	m.mu.Unlock()

	m.emit(out)
	m.poke()
	return nil
}

// Discard drops a failed entry for good and lets delivery resume.
func (m *Manager) Discard(key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(key)
	if i < 0 {
		return Entry{}, ErrUnknownEntry
	}
	if m.entries[i].Status != StatusFailed {
		return Entry{}, ErrNotFailed
	}
	out := *m.entries[i]
	m.drop(i)
	m.poke()
	return out, nil
}

// Restore reloads entries from a previous run. Anything that was in flight
// is queued again; failed entries stay failed.
func (m *Manager) Restore(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range entries {
		if m.find(in.Key()) != nil {
			continue
		}
		e := in
		if !e.Status.Terminal() {
			e.Status = StatusQueued
		}
		m.insertSorted(&e)
		telemetry.Metrics.QueueDepth.Inc()
		if e.Seq > m.seq {
			m.seq = e.Seq
		}
	}
}

// RestoreOutbox loads this match's persisted entries, if an outbox is set.
func (m *Manager) RestoreOutbox() (int, error) {
	if m.outbox == nil {
		return 0, nil
	}
	entries, err := m.outbox.Load(m.matchID)
	if err != nil {
		return 0, fmt.Errorf("load outbox for %s: %w", m.matchID, err)
	}
	m.Restore(entries)
	return len(entries), nil
}

// Snapshot returns every unresolved entry in submission order.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = *e
	}
	return out
}

// Has reports whether the queue still holds an entry for key.
func (m *Manager) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index(key) >= 0
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) insertSorted(e *Entry) {
	i := len(m.entries)
	for i > 0 && m.entries[i-1].Seq > e.Seq {
		i--
	}
	m.entries = append(m.entries, nil)
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
}

func (m *Manager) index(key string) int {
	for i, e := range m.entries {
		if e.Key() == key {
			return i
		}
	}
	return -1
}

func (m *Manager) find(key string) *Entry {
	if i := m.index(key); i >= 0 {
		return m.entries[i]
	}
	return nil
}

func (m *Manager) drop(i int) {
	e := m.entries[i]
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	telemetry.Metrics.QueueDepth.Dec()
	if m.outbox != nil {
		if err := m.outbox.Delete(m.matchID, e.Key()); err != nil {
			m.log.Warn("outbox delete failed", "key", e.Key(), "error", err)
		}
	}
}

func (m *Manager) persist(e *Entry) {
	if m.outbox == nil {
		return
	}
	if err := m.outbox.Save(*e); err != nil {
		m.log.Warn("outbox save failed", "key", e.Key(), "error", err)
	}
}
