package reconcile

import (
	"testing"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
)

func pass(key, clock string) match.MatchEvent {
	return match.MatchEvent{
		IdempotencyKey: key,
		MatchID:        "m1",
		Period:         1,
		MatchClock:     match.MustClock(clock),
		TeamID:         "H",
		PlayerID:       "h7",
		Type:           match.EventPass,
		SourceOrigin:   match.OriginOperatorLive,
	}
}

func TestApplySameKeyIsOneEntry(t *testing.T) {
	r := NewResolver(DefaultTolerance, nil)
	ev := pass("k1", "00:05.000")

	if got := r.Apply(ev); got != OutcomeInserted {
		t.Fatalf("first Apply = %v, want inserted", got)
	}
	ev.ServerEventID = "s1"
	if got := r.Apply(ev); got != OutcomeMerged {
		t.Fatalf("second Apply = %v, want merged", got)
	}
	events := r.Events()
	if len(events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(events))
	}
	if events[0].ServerEventID != "s1" {
		t.Fatalf("ServerEventID = %q, want s1", events[0].ServerEventID)
	}
}

func TestCorrectedOutcomeIsTheSameShot(t *testing.T) {
	r := NewResolver(DefaultTolerance, nil)
	saved := pass("k1", "12:00.000")
	saved.Type = match.EventShot
	saved.Data.Outcome = match.OutcomeSaved
	goal := saved
	goal.IdempotencyKey = "k2"
	goal.MatchClock = match.MustClock("12:00.300")
	goal.Data.Outcome = match.OutcomeGoal

	r.Apply(saved)
	if got := r.Apply(goal); got != OutcomeDuplicate {
		t.Fatalf("Apply re-logged shot = %v, want duplicate", got)
	}
	if n := r.Len(); n != 1 {
		t.Fatalf("visible shots = %d, want 1", n)
	}
}

func TestDoublePassRaisesDismissibleBanner(t *testing.T) {
	r := NewResolver(DefaultTolerance, nil)

	r.Apply(pass("k1", "00:05.000"))
	r.Acknowledge("k1", AckSuccess, "s1", "")

	if got := r.Apply(pass("k2", "00:05.000")); got != OutcomeDuplicate {
		t.Fatalf("Apply duplicate = %v, want duplicate", got)
	}
	r.Acknowledge("k2", AckDuplicate, "s1", "")

	if n := r.Len(); n != 1 {
		t.Fatalf("visible events = %d, want 1", n)
	}
	banners := r.Banners()
	if len(banners) != 1 {
		t.Fatalf("banners = %d, want 1", len(banners))
	}
	if banners[0].Canonical != "k1" {
		t.Fatalf("banner canonical = %q, want k1", banners[0].Canonical)
	}
	if !r.DismissBanner(banners[0].ID) {
		t.Fatal("DismissBanner returned false")
	}
	if len(r.Banners()) != 0 {
		t.Fatal("banner still present after dismiss")
	}
}

func TestServerDuplicateAckHidesSecondCopy(t *testing.T) {
	r := NewResolver(DefaultTolerance, nil)
	r.Apply(pass("k1", "00:05.000"))
	r.Acknowledge("k1", AckSuccess, "s1", "")

	// Outside the tuple window, so only the server can tell.
	r.Apply(pass("k2", "00:07.000"))
	if r.Len() != 2 {
		t.Fatalf("before ack: %d events, want 2", r.Len())
	}
	r.Acknowledge("k2", AckDuplicate, "s1", "")
	if r.Len() != 1 {
		t.Fatalf("after duplicate ack: %d events, want 1", r.Len())
	}
	rec, _ := r.Get("k2")
	if rec.State != RecordHidden || rec.DuplicateOf != "k1" {
		t.Fatalf("k2 = %+v, want hidden duplicate of k1", rec)
	}
}

func TestToleranceWindow(t *testing.T) {
	tests := []struct {
		name  string
		clock string
		want  Outcome
	}{
		{"same instant", "00:05.000", OutcomeDuplicate},
		{"inside window", "00:05.400", OutcomeDuplicate},
		{"edge of window", "00:05.500", OutcomeDuplicate},
		{"outside window", "00:05.501", OutcomeInserted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(DefaultTolerance, nil)
			r.Apply(pass("k1", "00:05.000"))
			if got := r.Apply(pass("k2", tt.clock)); got != tt.want {
				t.Fatalf("Apply = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDifferentServerIDsRaiseConflict(t *testing.T) {
	r := NewResolver(DefaultTolerance, nil)
	a := pass("k1", "10:00.000")
	a.ServerEventID = "s1"
	b := pass("k2", "10:00.200")
	b.ServerEventID = "s2"
	b.SourceOrigin = match.OriginIngestion

	r.Apply(a)
	if got := r.Apply(b); got != OutcomeConflict {
		t.Fatalf("Apply = %v, want conflict", got)
	}
	if r.Len() != 1 {
		t.Fatalf("visible = %d, want 1 while conflict is open", r.Len())
	}
	cs := r.Conflicts()
	if len(cs) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(cs))
	}
	if _, ok := r.ResolveConflict(cs[0].ID, true); !ok {
		t.Fatal("ResolveConflict returned false")
	}
	if r.Len() != 2 {
		t.Fatalf("visible after keep-both = %d, want 2", r.Len())
	}
	if len(r.Conflicts()) != 0 {
		t.Fatal("conflict still open")
	}
}

func TestTimelineSortedByClockNotArrival(t *testing.T) {
	r := NewResolver(DefaultTolerance, nil)
	late := pass("k1", "20:00.000")
	early := pass("k2", "03:00.000")
	early.PlayerID = "h9"
	second := pass("k3", "00:10.000")
	second.Period = 2

	r.Apply(second)
	r.Apply(late)
	r.Apply(early)

	got := r.Events()
	want := []string{"k2", "k1", "k3"}
	for i, ev := range got {
		if ev.IdempotencyKey != want[i] {
			t.Fatalf("Events()[%d] = %s, want %s", i, ev.IdempotencyKey, want[i])
		}
	}
}

func TestFailedAndRemoved(t *testing.T) {
	r := NewResolver(DefaultTolerance, nil)
	r.Apply(pass("k1", "00:05.000"))
	r.Acknowledge("k1", AckError, "", "bad payload")

	if r.Len() != 0 {
		t.Fatalf("failed event counted as visible")
	}
	if tl := r.Timeline(); len(tl) != 1 || tl[0].State != RecordFailed {
		t.Fatalf("timeline = %+v, want one failed record", tl)
	}
	r.Reinstate("k1")
	if r.Len() != 1 {
		t.Fatalf("reinstated event not visible")
	}
	if _, ok := r.Remove("k1", nil); !ok {
		t.Fatal("Remove returned false")
	}
	if r.Len() != 0 {
		t.Fatal("removed event still visible")
	}
}

func TestRemovingCanonicalPromotesQueuedCopy(t *testing.T) {
	r := NewResolver(DefaultTolerance, func() time.Time { return time.Unix(0, 0) })
	r.Apply(pass("k1", "00:05.000"))
	r.Apply(pass("k2", "00:05.100"))
	r.Remove("k1", func(key string) bool { return key == "k2" })

	events := r.Events()
	if len(events) != 1 || events[0].IdempotencyKey != "k2" {
		t.Fatalf("Events = %+v, want only k2", events)
	}
}

func TestRemovingCanonicalDropsSettledDuplicates(t *testing.T) {
	tests := []struct {
		name    string
		second  func(r *Resolver)
		visible int
	}{
		{"duplicate ack names the removed event", func(r *Resolver) {
			r.Apply(pass("k2", "00:05.100"))
			r.Acknowledge("k2", AckDuplicate, "s1", "")
		}, 0},
		{"distinct persisted copy survives", func(r *Resolver) {
			ev := pass("k2", "00:05.100")
			ev.SourceOrigin = match.OriginIngestion
			ev.ServerEventID = "s2"
			r.Apply(ev)
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(DefaultTolerance, func() time.Time { return time.Unix(0, 0) })
			r.Apply(pass("k1", "00:05.000"))
			r.Acknowledge("k1", AckSuccess, "s1", "")
			tt.second(r)
			if r.Len() != 1 {
				t.Fatalf("Len before remove = %d, want 1", r.Len())
			}

			r.Remove("k1", func(string) bool { return false })
			if r.Len() != tt.visible {
				t.Fatalf("Len after remove = %d, want %d", r.Len(), tt.visible)
			}
			if _, ok := r.Get("k2"); ok != (tt.visible == 1) {
				t.Fatalf("k2 present = %v, want %v", ok, tt.visible == 1)
			}
		})
	}
}

func TestLastLocalSkipsIngestion(t *testing.T) {
	r := NewResolver(DefaultTolerance, nil)
	r.Apply(pass("k1", "00:05.000"))
	ing := pass("k2", "00:09.000")
	ing.SourceOrigin = match.OriginIngestion
	ing.ServerEventID = "s2"
	r.Apply(ing)

	ev, ok := r.LastLocal()
	if !ok || ev.IdempotencyKey != "k1" {
		t.Fatalf("LastLocal = %v, %v; want k1", ev.IdempotencyKey, ok)
	}
}
