// eventstore_mock simulates the match event store locally: the REST API
// the operator reads and patches, the realtime WebSocket it submits over,
// and the substitution rule service. Submissions are idempotent per key
// and per action, like the real store.
//
// Usage:
//
//	go run ./cmd/eventstore_mock --match MOCK-1=HOME:AWAY
//
// Then point the operator at it:
//
//	EVENTSTORE_URL=http://localhost:8090
//	EVENTSTORE_WS_URL=ws://localhost:8090/ws
//
// Resilience helpers:
//
//	curl -X POST localhost:8090/admin/drop             # drop every WS connection
//	curl -X POST localhost:8090/matches/MOCK-1/ingest -d '{"type":"Pass",...}'
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"

	"github.com/charleschow/matchsync/internal/adapters/inbound/realtime_ws"
	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/state/period"
)

const pingInterval = 10 * time.Second

var errNotFound = errors.New("not found")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(env realtime_ws.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(env)
}

type server struct {
	store    *store
	ackDelay time.Duration
	failRate float64

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func newServer(st *store) *server {
	return &server{store: st, conns: make(map[*wsConn]struct{})}
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	matches := flag.StringSlice("match", []string{"MOCK-1=HOME:AWAY"}, "match to serve as ID=HOME:AWAY (repeatable)")
	ackDelay := flag.Duration("ack-delay", 0, "delay before each ack")
	failRate := flag.Float64("fail-rate", 0, "fraction of submissions answered with a retryable error")
	flag.Parse()

	st := newStore()
	for _, m := range *matches {
		id, teams, ok := strings.Cut(m, "=")
		home, away, ok2 := strings.Cut(teams, ":")
		if !ok || !ok2 {
			fmt.Fprintf(os.Stderr, "bad --match %q, want ID=HOME:AWAY\n", m)
			os.Exit(1)
		}
		st.addMatch(id, home, away)
		fmt.Fprintf(os.Stderr, "  match %s: %s vs %s\n", id, home, away)
	}

	srv := newServer(st)
	srv.ackDelay = *ackDelay
	srv.failRate = *failRate

	fmt.Fprintf(os.Stderr, "Event Store Mock listening on %s\n", *addr)
	fmt.Fprintf(os.Stderr, "  REST: http://localhost%s/matches/{id}\n", *addr)
	fmt.Fprintf(os.Stderr, "  WS:   ws://localhost%s/ws\n", *addr)

	if err := http.ListenAndServe(*addr, srv.routes()); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /matches/{id}", s.handleGetMatch)
	mux.HandleFunc("GET /matches/{id}/events", s.handleListEvents)
	mux.HandleFunc("PATCH /matches/{id}/status", s.handlePatchStatus)
	mux.HandleFunc("PATCH /matches/{id}/clock-mode", s.handlePatchClock)
	mux.HandleFunc("DELETE /matches/{id}/events/{eid}", s.handleDeleteEvent)
	mux.HandleFunc("POST /matches/{id}/substitutions/validate", s.handleValidateSub)
	mux.HandleFunc("POST /matches/{id}/ingest", s.handleIngest)
	mux.HandleFunc("POST /admin/drop", s.handleDrop)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var te *match.TransitionError
	switch {
	case errors.Is(err, errNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "NotFound", "message": err.Error()})
	case errors.As(err, &te):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "TransitionNotAllowed", "message": te.Reason})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "ValidationError", "message": err.Error()})
	}
}

func (s *server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	info, ok := s.store.getMatch(r.PathValue("id"))
	if !ok {
		writeError(w, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	p, ok := s.store.list(r.PathValue("id"), page, size)
	if !ok {
		writeError(w, errNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handlePatchStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status period.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Status.Valid() {
		writeError(w, fmt.Errorf("bad status"))
		return
	}
	if err := s.store.patchStatus(r.PathValue("id"), body.Status); err != nil {
		writeError(w, err)
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] status -> %s\n", r.PathValue("id"), body.Status)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handlePatchClock(w http.ResponseWriter, r *http.Request) {
	var p period.ClockPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, fmt.Errorf("bad clock patch: %v", err))
		return
	}
	if err := s.store.patchClock(r.PathValue("id"), p); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.deleteEvent(r.PathValue("id"), r.PathValue("eid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleValidateSub(w http.ResponseWriter, r *http.Request) {
	var req rules.SubstitutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("bad substitution request: %v", err))
		return
	}
	req.MatchID = r.PathValue("id")
	v, err := s.store.validateSubstitution(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleIngest stores a third-party event and pushes it to every client.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev match.MatchEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, fmt.Errorf("bad event: %v", err))
		return
	}
	ev.MatchID = r.PathValue("id")
	stored, err := s.store.ingest(ev)
	if err != nil {
		writeError(w, errNotFound)
		return
	}
	env, _ := realtime_ws.NewEnvelope(realtime_ws.TypeEvent, stored.MatchID, time.Now().UTC(), stored)
	s.broadcast(env)
	writeJSON(w, http.StatusCreated, stored)
}

func (s *server) handleDrop(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := len(s.conns)
	for c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()
	fmt.Fprintf(os.Stderr, "[admin] dropped %d connections\n", n)
	writeJSON(w, http.StatusOK, map[string]int{"dropped": n})
}

func (s *server) broadcast(env realtime_ws.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.write(env)
	}
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	fmt.Fprintf(os.Stderr, "[ws] client connected\n")

	done := make(chan struct{})
	defer func() {
		close(done)
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		conn.Close()
		fmt.Fprintf(os.Stderr, "[ws] client disconnected\n")
	}()

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				c.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := realtime_ws.ParseEnvelope(data)
		if err != nil || env.Type != realtime_ws.TypeSubmitEvent {
			continue
		}
		var ev match.MatchEvent
		if err := env.Decode(&ev); err != nil {
			c.write(errorEnvelope(env.MatchID, err))
			continue
		}
		if ev.MatchID == "" {
			ev.MatchID = env.MatchID
		}

		ack := s.answer(ev)
		if s.ackDelay > 0 {
			time.Sleep(s.ackDelay)
		}
		reply, _ := realtime_ws.NewEnvelope(realtime_ws.TypeAck, ev.MatchID, time.Now().UTC(), ack)
		if err := c.write(reply); err != nil {
			return
		}
	}
}

func (s *server) answer(ev match.MatchEvent) queue.Ack {
	if s.failRate > 0 && rand.Float64() < s.failRate {
		return queue.Ack{
			MatchID:        ev.MatchID,
			IdempotencyKey: ev.IdempotencyKey,
			Status:         queue.AckError,
			ErrorDetail:    "store busy",
			Retryable:      true,
		}
	}
	ack := s.store.submit(ev)
	fmt.Fprintf(os.Stderr, "[%s] %s %s %s -> %s %s\n", ev.MatchID, ev.MatchClock, ev.Type, ev.IdempotencyKey, ack.Status, ack.ServerEventID)
	return ack
}

func errorEnvelope(matchID string, err error) realtime_ws.Envelope {
	env, _ := realtime_ws.NewEnvelope(realtime_ws.TypeError, matchID, time.Now().UTC(), realtime_ws.ErrorPayload{Message: err.Error()})
	return env
}
