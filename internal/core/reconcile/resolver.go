package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/charleschow/matchsync/internal/core/match"
)

// DefaultTolerance is how far apart two otherwise identical events may be
// stamped and still count as one occurrence.
const DefaultTolerance = 500 * time.Millisecond

// NewKey returns a fresh client-generated idempotency key.
func NewKey() string { return uuid.NewString() }

// RecordState tracks where a timeline record stands with the store.
type RecordState string

const (
	RecordPending   RecordState = "pending"   // optimistic, no server id yet
	RecordConfirmed RecordState = "confirmed" // store assigned a server id
	RecordFailed    RecordState = "failed"    // store rejected it
	RecordHidden    RecordState = "hidden"    // duplicate of a canonical record
)

// Record is one entry of the merged log.
type Record struct {
	Event   match.MatchEvent `json:"event"`
	State   RecordState      `json:"state"`
	Arrival int64            `json:"arrival"`
	Detail  string           `json:"detail,omitempty"`
	// DuplicateOf is the idempotency key of the canonical record this one
	// duplicates, set when State is RecordHidden.
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// Banner is a dismissible, non-blocking duplicate notice.
type Banner struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Canonical string    `json:"canonical"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Conflict is two persisted events (different server ids) that look like
// the same action. The later one stays hidden until someone decides.
type Conflict struct {
	ID        string           `json:"id"`
	Canonical match.MatchEvent `json:"canonical"`
	Duplicate match.MatchEvent `json:"duplicate"`
	RaisedAt  time.Time        `json:"raised_at"`
}

// Outcome says what Apply did with an incoming event.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeMerged
	OutcomeDuplicate
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeMerged:
		return "merged"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeConflict:
		return "conflict"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// AckStatus mirrors the store's per-submission acknowledgment.
type AckStatus string

const (
	AckSuccess   AckStatus = "success"
	AckDuplicate AckStatus = "duplicate"
	AckError     AckStatus = "error"
)

// Resolver owns the merged event log of one match. It is not safe for
// concurrent use; the owning session serializes access.
type Resolver struct {
	tolerance match.Clock
	now       func() time.Time

	records    []*Record
	byKey      map[string]*Record
	byServerID map[string]*Record
	arrival    int64

	banners   []Banner
	conflicts []Conflict
}

func NewResolver(tolerance time.Duration, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		tolerance:  match.Clock(tolerance.Milliseconds()),
		now:        now,
		byKey:      make(map[string]*Record),
		byServerID: make(map[string]*Record),
	}
}

// Apply merges an event from any source: an optimistic local insert, a
// server broadcast, or a reload page.
func (r *Resolver) Apply(ev match.MatchEvent) Outcome {
	if ev.IdempotencyKey != "" {
		if rec, ok := r.byKey[ev.IdempotencyKey]; ok {
			r.merge(rec, ev)
			return OutcomeMerged
		}
	}
	if ev.ServerEventID != "" {
		if rec, ok := r.byServerID[ev.ServerEventID]; ok {
			r.merge(rec, ev)
			if ev.IdempotencyKey != "" {
				r.byKey[ev.IdempotencyKey] = rec
			}
			return OutcomeMerged
		}
	}

	rec := r.insert(ev)
	canon := r.findTupleMatch(rec)
	if canon == nil {
		return OutcomeInserted
	}

	rec.State = RecordHidden
	rec.DuplicateOf = canon.Event.IdempotencyKey
	if ev.ServerEventID != "" && canon.Event.ServerEventID != "" && ev.ServerEventID != canon.Event.ServerEventID {
		r.conflicts = append(r.conflicts, Conflict{
			ID:        uuid.NewString(),
			Canonical: canon.Event,
			Duplicate: ev,
			RaisedAt:  r.now(),
		})
		return OutcomeConflict
	}
	r.raise(ev.IdempotencyKey, canon.Event.IdempotencyKey,
		fmt.Sprintf("Duplicate %s at %s ignored", ev.Type, ev.MatchClock))
	return OutcomeDuplicate
}

func (r *Resolver) insert(ev match.MatchEvent) *Record {
	r.arrival++
	state := RecordPending
	if ev.ServerEventID != "" {
		state = RecordConfirmed
	}
	rec := &Record{Event: ev, State: state, Arrival: r.arrival}
	r.records = append(r.records, rec)
	if ev.IdempotencyKey != "" {
		r.byKey[ev.IdempotencyKey] = rec
	}
	if ev.ServerEventID != "" {
		r.byServerID[ev.ServerEventID] = rec
	}
	return rec
}

// merge folds a second copy of the same logical event into rec. The server
// id, once known, is kept.
func (r *Resolver) merge(rec *Record, ev match.MatchEvent) {
	if rec.Event.ServerEventID == "" && ev.ServerEventID != "" {
		rec.Event.ServerEventID = ev.ServerEventID
		r.byServerID[ev.ServerEventID] = rec
		if rec.State == RecordPending {
			rec.State = RecordConfirmed
		}
	}
}

// findTupleMatch looks for a visible record of the same action within the
// clock tolerance.
func (r *Resolver) findTupleMatch(rec *Record) *Record {
	for _, other := range r.records {
		if other == rec || !other.visible() {
			continue
		}
		if other.Event.SameAction(rec.Event, r.tolerance) {
			return other
		}
	}
	return nil
}

// Acknowledge applies the store's answer for a submitted key. A duplicate
// answer keeps exactly one canonical copy: the record already holding
// canonicalServerID if there is one, otherwise ours.
func (r *Resolver) Acknowledge(key string, status AckStatus, serverEventID, detail string) {
	rec, ok := r.byKey[key]
	if !ok {
		return
	}
	switch status {
	case AckSuccess:
		if serverEventID == "" {
			rec.State = RecordConfirmed
			return
		}
		if other, ok := r.byServerID[serverEventID]; ok && other != rec {
			r.hide(rec, other)
			return
		}
		r.merge(rec, match.MatchEvent{ServerEventID: serverEventID})
		rec.State = RecordConfirmed
	case AckDuplicate:
		if other, ok := r.byServerID[serverEventID]; ok && other != rec {
			r.hide(rec, other)
		} else {
			if serverEventID != "" {
				r.merge(rec, match.MatchEvent{ServerEventID: serverEventID})
			}
			if rec.State != RecordHidden {
				rec.State = RecordConfirmed
			}
		}
		r.raise(key, r.canonicalKey(rec), fmt.Sprintf("Duplicate %s at %s already recorded", rec.Event.Type, rec.Event.MatchClock))
	case AckError:
		rec.State = RecordFailed
		rec.Detail = detail
	}
}

func (r *Resolver) hide(rec, canon *Record) {
	rec.State = RecordHidden
	rec.DuplicateOf = canon.Event.IdempotencyKey
}

func (r *Resolver) canonicalKey(rec *Record) string {
	if rec.DuplicateOf != "" {
		return rec.DuplicateOf
	}
	return rec.Event.IdempotencyKey
}

func (r *Resolver) raise(key, canonical, msg string) {
	for _, b := range r.banners {
		if b.Key == key {
			return
		}
	}
	r.banners = append(r.banners, Banner{
		ID:        uuid.NewString(),
		Key:       key,
		Canonical: canonical,
		Message:   msg,
		RaisedAt:  r.now(),
	})
}

// MarkFailed flags a record whose submission ended in a visible failure.
func (r *Resolver) MarkFailed(key, detail string) {
	if rec, ok := r.byKey[key]; ok && rec.State != RecordHidden {
		rec.State = RecordFailed
		rec.Detail = detail
	}
}

// Reinstate returns a failed record to pending for a manual retry.
func (r *Resolver) Reinstate(key string) {
	if rec, ok := r.byKey[key]; ok && rec.State == RecordFailed {
		rec.State = RecordPending
		rec.Detail = ""
	}
}

// Remove drops a record entirely (undo, discard). Copies hidden behind it
// go with it unless they stand on their own: a persisted copy with a
// different server id, or an unsent copy for which owed reports true
// because the queue still holds it. The first such copy becomes canonical.
// owed may be nil.
func (r *Resolver) Remove(key string, owed func(key string) bool) (match.MatchEvent, bool) {
	rec, ok := r.byKey[key]
	if !ok {
		return match.MatchEvent{}, false
	}
	r.drop(rec)

	var promoted *Record
	for _, other := range append([]*Record(nil), r.records...) {
		if other.State != RecordHidden || other.DuplicateOf != key {
			continue
		}
		sid := other.Event.ServerEventID
		distinct := sid != "" && sid != rec.Event.ServerEventID
		queued := sid == "" && owed != nil && owed(other.Event.IdempotencyKey)
		switch {
		case !distinct && !queued:
			r.drop(other)
		case promoted == nil:
			other.State = stateFor(other.Event)
			other.DuplicateOf = ""
			promoted = other
		default:
			other.DuplicateOf = promoted.Event.IdempotencyKey
		}
	}
	return rec.Event, true
}

func (r *Resolver) drop(rec *Record) {
	for k, v := range r.byKey {
		if v == rec {
			delete(r.byKey, k)
		}
	}
	if sid := rec.Event.ServerEventID; sid != "" && r.byServerID[sid] == rec {
		delete(r.byServerID, sid)
	}
	for i, other := range r.records {
		if other == rec {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return
		}
	}
}

func stateFor(ev match.MatchEvent) RecordState {
	if ev.ServerEventID != "" {
		return RecordConfirmed
	}
	return RecordPending
}

// Get returns the record for a key.
func (r *Resolver) Get(key string) (Record, bool) {
	rec, ok := r.byKey[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (rec *Record) visible() bool {
	return rec.State == RecordPending || rec.State == RecordConfirmed
}

// Events returns the canonical log: visible records only, ordered by
// period and match clock with ties broken by arrival.
func (r *Resolver) Events() []match.MatchEvent {
	recs := r.Timeline()
	out := make([]match.MatchEvent, 0, len(recs))
	for _, rec := range recs {
		if rec.visible() {
			out = append(out, rec.Event)
		}
	}
	return out
}

// Timeline returns every non-hidden record (failed ones included, flagged)
// in display order.
func (r *Resolver) Timeline() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if rec.State != RecordHidden {
			out = append(out, *rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Event.Period != b.Event.Period {
			return a.Event.Period < b.Event.Period
		}
		if a.Event.MatchClock != b.Event.MatchClock {
			return a.Event.MatchClock < b.Event.MatchClock
		}
		return a.Arrival < b.Arrival
	})
	return out
}

// LastLocal returns the most recently submitted visible event logged by the
// operator side.
func (r *Resolver) LastLocal() (match.MatchEvent, bool) {
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.visible() && rec.Event.SourceOrigin.Local() {
			return rec.Event, true
		}
	}
	return match.MatchEvent{}, false
}

func (r *Resolver) Banners() []Banner { return append([]Banner(nil), r.banners...) }

func (r *Resolver) DismissBanner(id string) bool {
	for i, b := range r.banners {
		if b.ID == id {
			r.banners = append(r.banners[:i], r.banners[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Resolver) Conflicts() []Conflict { return append([]Conflict(nil), r.conflicts...) }

// ResolveConflict closes a conflict. keepBoth reinstates the hidden event as
// a distinct occurrence; otherwise the canonical copy alone survives.
func (r *Resolver) ResolveConflict(id string, keepBoth bool) (Conflict, bool) {
	for i, c := range r.conflicts {
		if c.ID != id {
			continue
		}
		r.conflicts = append(r.conflicts[:i], r.conflicts[i+1:]...)
		if keepBoth {
			if rec, ok := r.byServerID[c.Duplicate.ServerEventID]; ok {
				rec.State = RecordConfirmed
				rec.DuplicateOf = ""
			}
		}
		return c, true
	}
	return Conflict{}, false
}

func (r *Resolver) Len() int { return len(r.Events()) }
