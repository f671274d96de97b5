package eventstore_http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/session"
	"github.com/charleschow/matchsync/internal/core/state/period"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok", 100)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestListEventsDecodesPage(t *testing.T) {
	var gotQuery, gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/matches/m1/events" {
			t.Errorf("path = %s, want /matches/m1/events", r.URL.Path)
		}
		writeJSON(w, 200, session.EventPage{
			Items: []match.MatchEvent{{
				IdempotencyKey: "k1",
				MatchID:        "m1",
				Period:         1,
				MatchClock:     match.MustClock("12:30.250"),
				TeamID:         "home",
				Type:           match.EventPass,
				ServerEventID:  "s1",
			}},
			HasNext: true,
		})
	}))

	page, err := c.ListEvents(context.Background(), "m1", 2, 50)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if gotQuery != "page=2&page_size=50" {
		t.Fatalf("query = %q, want page=2&page_size=50", gotQuery)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if !page.HasNext || len(page.Items) != 1 {
		t.Fatalf("page = %+v, want 1 item with next", page)
	}
	if got := page.Items[0].MatchClock; got != match.MustClock("12:30.250") {
		t.Fatalf("clock = %s, want 12:30.250", got)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   apiError
		want   error
	}{
		{"transition refused", 400, apiError{Code: "TransitionNotAllowed", Message: "minimum time"}, match.ErrTransitionNotAllowed},
		{"validation", 422, apiError{Code: "ValidationError", Message: "bad status"}, match.ErrValidationRejected},
		{"server error", 503, apiError{}, match.ErrTransientSendFailure},
		{"throttled", 429, apiError{}, match.ErrTransientSendFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			err := c.PatchMatchStatus(context.Background(), "m1", period.StatusHalftime)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTransitionErrorNamesTarget(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, apiError{Code: "TransitionNotAllowed", Message: "45:00 not reached"})
	}))
	err := c.PatchMatchStatus(context.Background(), "m1", period.StatusHalftime)
	var te *match.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *match.TransitionError", err)
	}
	if te.To != string(period.StatusHalftime) || te.Reason != "45:00 not reached" {
		t.Fatalf("TransitionError = %+v", te)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", 100)
	_, err := c.GetMatch(context.Background(), "m1")
	if !errors.Is(err, match.ErrTransientSendFailure) {
		t.Fatalf("err = %v, want ErrTransientSendFailure", err)
	}
}

func TestDeleteEventTreatsMissingAsDeleted(t *testing.T) {
	var method, path string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		writeJSON(w, 404, apiError{Code: "NotFound"})
	}))
	if err := c.DeleteEvent(context.Background(), "m1", "s9"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if method != http.MethodDelete || path != "/matches/m1/events/s9" {
		t.Fatalf("request = %s %s, want DELETE /matches/m1/events/s9", method, path)
	}
}

func TestPatchClockModeSendsPatch(t *testing.T) {
	var got period.ClockPatch
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/matches/m1/clock-mode" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	patch := period.ClockPatch{ClockMode: period.ClockEffective}
	if err := c.PatchClockMode(context.Background(), "m1", patch); err != nil {
		t.Fatalf("PatchClockMode: %v", err)
	}
	if got.ClockMode != period.ClockEffective {
		t.Fatalf("clock_mode = %s, want EFFECTIVE", got.ClockMode)
	}
}

func TestValidateSubstitutionCoalesces(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		writeJSON(w, 200, rules.SubstitutionVerdict{
			IsValid:    true,
			TeamStatus: match.TeamStatus{TotalSubstitutions: 1, MaxSubstitutions: 5},
		})
	}))

	req := rules.SubstitutionRequest{MatchID: "m1", TeamID: "home", PlayerOff: "p1", PlayerOn: "p12"}
	var wg sync.WaitGroup
	results := make([]rules.SubstitutionVerdict, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.ValidateSubstitution(context.Background(), req)
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("server calls = %d, want 1", n)
	}
	for i := range 2 {
		if errs[i] != nil || !results[i].IsValid {
			t.Fatalf("result %d = %+v, %v", i, results[i], errs[i])
		}
	}
}

func TestValidateSubstitutionSurvivesFirstCallerCancel(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		writeJSON(w, 200, rules.SubstitutionVerdict{IsValid: true})
	}))

	req := rules.SubstitutionRequest{MatchID: "m1", TeamID: "home", PlayerOff: "p1", PlayerOn: "p12"}
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.ValidateSubstitution(firstCtx, req)
		firstErr <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	secondRes := make(chan error, 1)
	go func() {
		v, err := c.ValidateSubstitution(context.Background(), req)
		if err == nil && !v.IsValid {
			err = errors.New("verdict not valid")
		}
		secondRes <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v, want context.Canceled", err)
	}
	close(release)
	if err := <-secondRes; err != nil {
		t.Fatalf("second caller err = %v, want a valid verdict", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("server calls = %d, want 1", n)
	}
}
