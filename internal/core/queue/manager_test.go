package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
)

type fakeChannel struct {
	mu   sync.Mutex
	up   bool
	err  error
	sent chan match.MatchEvent
}

func newFakeChannel(up bool) *fakeChannel {
	return &fakeChannel{up: up, sent: make(chan match.MatchEvent, 64)}
}

func (f *fakeChannel) Send(ctx context.Context, ev match.MatchEvent) error {
	f.mu.Lock()
	up, err := f.up, f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if !up {
		return match.ErrTransientSendFailure
	}
	f.sent <- ev
	return nil
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeChannel) setUp(up bool) {
	f.mu.Lock()
	f.up = up
	f.mu.Unlock()
}

func (f *fakeChannel) next(t *testing.T) match.MatchEvent {
	t.Helper()
	select {
	case ev := <-f.sent:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a send")
	}
	return match.MatchEvent{}
}

func (f *fakeChannel) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-f.sent:
		t.Fatalf("unexpected send of %s", ev.IdempotencyKey)
	case <-time.After(d):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testEvent(matchID string, n int) match.MatchEvent {
	return match.MatchEvent{
		IdempotencyKey: fmt.Sprintf("%s-k%d", matchID, n),
		MatchID:        matchID,
		Period:         1,
		MatchClock:     match.ClockFromSeconds(float64(n)),
		TeamID:         "H",
		PlayerID:       "h7",
		Type:           match.EventPass,
		SourceOrigin:   match.OriginOperatorLive,
	}
}

func fastConfig() Config {
	return Config{AckTimeout: time.Second, MaxRetries: 2, Backoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
}

func ack(matchID, key string, status AckStatus) Ack {
	return Ack{MatchID: matchID, IdempotencyKey: key, Status: status, ServerEventID: "srv-" + key}
}

func TestOfflineEntriesFlushInOrderOnReconnect(t *testing.T) {
	ch := newFakeChannel(false)
	m := NewManager("m1", ch, fastConfig())
	m.Start()
	defer m.Close()

	m.Enqueue(testEvent("m1", 1))
	m.Enqueue(testEvent("m1", 2))

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("queued = %d, want 2", len(snap))
	}
	for _, e := range snap {
		if e.Status != StatusQueued {
			t.Fatalf("%s status = %s, want queued", e.Key(), e.Status)
		}
	}

	ch.setUp(true)
	m.SetConnected(true)

	first := ch.next(t)
	if first.IdempotencyKey != "m1-k1" {
		t.Fatalf("first send = %s, want m1-k1", first.IdempotencyKey)
	}
	// Nothing else goes out until the head is answered.
	ch.quiet(t, 30*time.Millisecond)

	m.HandleAck(ack("m1", "m1-k1", AckSuccess))
	if second := ch.next(t); second.IdempotencyKey != "m1-k2" {
		t.Fatalf("second send = %s, want m1-k2", second.IdempotencyKey)
	}
	m.HandleAck(ack("m1", "m1-k2", AckSuccess))

	waitFor(t, "empty queue", func() bool { return m.Len() == 0 })
}

func TestAckTimeoutRetriesThenFails(t *testing.T) {
	ch := newFakeChannel(true)
	cfg := fastConfig()
	cfg.AckTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 1

	var mu sync.Mutex
	var seen []LocalStatus
	m := NewManager("m1", ch, cfg, WithNotify(func(e Entry) {
		if e.Key() != "m1-k1" {
			return
		}
		mu.Lock()
		seen = append(seen, e.Status)
		mu.Unlock()
	}))
	m.Start()
	defer m.Close()

	m.Enqueue(testEvent("m1", 1))
	m.Enqueue(testEvent("m1", 2))

	for i := 0; i < 2; i++ {
		if ev := ch.next(t); ev.IdempotencyKey != "m1-k1" {
			t.Fatalf("attempt %d sent %s, want m1-k1", i+1, ev.IdempotencyKey)
		}
	}
	waitFor(t, "failed head", func() bool { return m.Snapshot()[0].Status == StatusFailed })
	// A failed head holds back everything behind it.
	ch.quiet(t, 50*time.Millisecond)

	snap := m.Snapshot()
	if snap[0].RetryCount != 2 {
		t.Fatalf("head retries = %d, want 2", snap[0].RetryCount)
	}
	if snap[0].LastError == "" {
		t.Fatal("failed entry has no error detail")
	}
	if snap[1].Status != StatusQueued {
		t.Fatalf("m1-k2 status = %s, want queued", snap[1].Status)
	}
	if !m.Blocked() {
		t.Fatal("Blocked() = false with a failed head")
	}
	mu.Lock()
	if len(seen) != 2 || seen[0] != StatusQueued || seen[1] != StatusFailed {
		mu.Unlock()
		t.Fatalf("notified statuses = %v, want [queued failed]", seen)
	}
	mu.Unlock()

	if _, err := m.Discard("m1-k1"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if ev := ch.next(t); ev.IdempotencyKey != "m1-k2" {
		t.Fatalf("sent %s after discard, want m1-k2", ev.IdempotencyKey)
	}
}

func TestReconnectFlushHaltsAtFailedEntry(t *testing.T) {
	ch := newFakeChannel(false)
	m := NewManager("m1", ch, fastConfig())
	m.Start()
	defer m.Close()

	m.Enqueue(testEvent("m1", 1))
	m.Enqueue(testEvent("m1", 2))

	ch.setUp(true)
	m.SetConnected(true)
	if ev := ch.next(t); ev.IdempotencyKey != "m1-k1" {
		t.Fatalf("first send = %s, want m1-k1", ev.IdempotencyKey)
	}
	m.HandleAck(Ack{MatchID: "m1", IdempotencyKey: "m1-k1", Status: AckError, ErrorDetail: "bad clock"})

	waitFor(t, "failed head", func() bool { return m.Snapshot()[0].Status == StatusFailed })
	ch.quiet(t, 50*time.Millisecond)
	if s := m.Snapshot(); len(s) != 2 || s[1].Status != StatusQueued {
		t.Fatalf("queue = %+v, want m1-k2 still queued", s)
	}

	// A later entry waits behind the failure too.
	if e := m.Enqueue(testEvent("m1", 3)); e.Status != StatusQueued {
		t.Fatalf("enqueue behind failure = %s, want queued", e.Status)
	}

	if err := m.Retry("m1-k1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	for i := 1; i <= 3; i++ {
		ev := ch.next(t)
		if want := fmt.Sprintf("m1-k%d", i); ev.IdempotencyKey != want {
			t.Fatalf("send %d = %s, want %s", i, ev.IdempotencyKey, want)
		}
		m.HandleAck(ack("m1", ev.IdempotencyKey, AckSuccess))
	}
	waitFor(t, "empty queue", func() bool { return m.Len() == 0 })
}

func TestPermanentErrorFailsWithoutRetry(t *testing.T) {
	ch := newFakeChannel(true)
	m := NewManager("m1", ch, fastConfig())
	m.Start()
	defer m.Close()

	m.Enqueue(testEvent("m1", 1))
	ch.next(t)
	m.HandleAck(Ack{MatchID: "m1", IdempotencyKey: "m1-k1", Status: AckError, ErrorDetail: "malformed clock"})

	waitFor(t, "failed entry", func() bool {
		s := m.Snapshot()
		return len(s) == 1 && s[0].Status == StatusFailed
	})
	ch.quiet(t, 30*time.Millisecond)

	s := m.Snapshot()[0]
	if s.RetryCount != 0 || s.LastError != "malformed clock" {
		t.Fatalf("entry = %+v, want no retries and the error detail", s)
	}
}

func TestRetryableErrorAckIsRetried(t *testing.T) {
	ch := newFakeChannel(true)
	m := NewManager("m1", ch, fastConfig())
	m.Start()
	defer m.Close()

	m.Enqueue(testEvent("m1", 1))
	ch.next(t)
	m.HandleAck(Ack{MatchID: "m1", IdempotencyKey: "m1-k1", Status: AckError, Retryable: true})

	if ev := ch.next(t); ev.IdempotencyKey != "m1-k1" {
		t.Fatalf("resent %s, want m1-k1", ev.IdempotencyKey)
	}
	m.HandleAck(ack("m1", "m1-k1", AckDuplicate))
	waitFor(t, "empty queue", func() bool { return m.Len() == 0 })
}

func TestDisconnectRequeuesWithoutChargingRetry(t *testing.T) {
	ch := newFakeChannel(true)
	m := NewManager("m1", ch, fastConfig())
	m.Start()
	defer m.Close()

	m.Enqueue(testEvent("m1", 1))
	ch.next(t)

	ch.setUp(false)
	m.SetConnected(false)
	waitFor(t, "queued entry", func() bool {
		s := m.Snapshot()
		return len(s) == 1 && s[0].Status == StatusQueued
	})
	if rc := m.Snapshot()[0].RetryCount; rc != 0 {
		t.Fatalf("RetryCount = %d, want 0", rc)
	}

	ch.setUp(true)
	m.SetConnected(true)
	if ev := ch.next(t); ev.IdempotencyKey != "m1-k1" {
		t.Fatalf("resent %s, want the original key", ev.IdempotencyKey)
	}
}

func TestQueuesArePartitionedByMatch(t *testing.T) {
	ch := newFakeChannel(true)
	a := NewManager("A", ch, fastConfig())
	b := NewManager("B", ch, fastConfig())
	a.Start()
	b.Start()
	defer a.Close()
	defer b.Close()

	a.SetActive(false)
	a.Enqueue(testEvent("A", 1))
	a.Enqueue(testEvent("A", 2))
	b.Enqueue(testEvent("B", 1))

	if ev := ch.next(t); ev.MatchID != "B" {
		t.Fatalf("sent %s while A inactive", ev.IdempotencyKey)
	}
	b.HandleAck(ack("B", "B-k1", AckSuccess))
	waitFor(t, "B drained", func() bool { return b.Len() == 0 })
	ch.quiet(t, 30*time.Millisecond)

	if a.Len() != 2 {
		t.Fatalf("A queue = %d, want 2 after switching away", a.Len())
	}
	if a.HandleAck(ack("A", "B-k1", AckSuccess)) {
		t.Fatal("A accepted an ack for a B key")
	}

	a.SetActive(true)
	for i := 1; i <= 2; i++ {
		ev := ch.next(t)
		if want := fmt.Sprintf("A-k%d", i); ev.IdempotencyKey != want {
			t.Fatalf("sent %s, want %s", ev.IdempotencyKey, want)
		}
		a.HandleAck(ack("A", ev.IdempotencyKey, AckSuccess))
	}
	waitFor(t, "A drained", func() bool { return a.Len() == 0 })
}

func TestDeactivateReleasesInflightEntry(t *testing.T) {
	ch := newFakeChannel(true)
	m := NewManager("m1", ch, fastConfig())
	m.Start()
	defer m.Close()

	m.Enqueue(testEvent("m1", 1))
	ch.next(t)
	m.SetActive(false)

	waitFor(t, "entry requeued", func() bool {
		s := m.Snapshot()
		return len(s) == 1 && s[0].Status == StatusQueued
	})
	if _, err := m.Cancel("m1-k1"); err != nil {
		t.Fatalf("Cancel after deactivate: %v", err)
	}
	if m.Len() != 0 {
		t.Fatal("entry survived Cancel")
	}
}

func TestCancelRetryDiscard(t *testing.T) {
	ch := newFakeChannel(false)
	m := NewManager("m1", ch, fastConfig())
	m.Start()
	defer m.Close()

	m.Enqueue(testEvent("m1", 1))
	if _, err := m.Cancel("nope"); !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("Cancel(unknown) = %v, want ErrUnknownEntry", err)
	}
	if err := m.Retry("m1-k1"); !errors.Is(err, ErrNotFailed) {
		t.Fatalf("Retry(queued) = %v, want ErrNotFailed", err)
	}
	if _, err := m.Cancel("m1-k1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	ch.setUp(true)
	m.SetConnected(true)
	m.Enqueue(testEvent("m1", 2))
	ch.next(t)
	m.HandleAck(Ack{MatchID: "m1", IdempotencyKey: "m1-k2", Status: AckError, ErrorDetail: "bad"})
	waitFor(t, "failed", func() bool {
		s := m.Snapshot()
		return len(s) == 1 && s[0].Status == StatusFailed
	})

	if err := m.Retry("m1-k2"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	ch.next(t)
	m.HandleAck(Ack{MatchID: "m1", IdempotencyKey: "m1-k2", Status: AckError, ErrorDetail: "bad"})
	waitFor(t, "failed again", func() bool {
		s := m.Snapshot()
		return len(s) == 1 && s[0].Status == StatusFailed
	})
	if _, err := m.Discard("m1-k2"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if m.Len() != 0 {
		t.Fatal("discarded entry still present")
	}
}

func TestEnqueueSameKeyTwice(t *testing.T) {
	ch := newFakeChannel(false)
	m := NewManager("m1", ch, fastConfig())
	first := m.Enqueue(testEvent("m1", 1))
	again := m.Enqueue(testEvent("m1", 1))
	if m.Len() != 1 || again.Seq != first.Seq {
		t.Fatalf("Len = %d seq %d/%d, want one entry", m.Len(), first.Seq, again.Seq)
	}
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	cfg := Config{Backoff: 100 * time.Millisecond, MaxBackoff: 350 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond},
		{9, 350 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.backoff(tt.attempt); got != tt.want {
			t.Fatalf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
