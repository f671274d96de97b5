package realtime_ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
)

// storeServer acks every submit_event and can push events or drop all
// connections.
type storeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	dials int
	auth  string
}

func newStoreServer(t *testing.T) *storeServer {
	t.Helper()
	s := &storeServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *storeServer) url() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") }

func (s *storeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.dials++
	s.auth = r.Header.Get("Authorization")
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := ParseEnvelope(data)
		if err != nil || env.Type != TypeSubmitEvent {
			continue
		}
		var ev match.MatchEvent
		if err := env.Decode(&ev); err != nil {
			continue
		}
		reply, _ := NewEnvelope(TypeAck, ev.MatchID, time.Now(), queue.Ack{
			IdempotencyKey: ev.IdempotencyKey,
			Status:         queue.AckSuccess,
			ServerEventID:  "srv-" + ev.IdempotencyKey,
		})
		s.mu.Lock()
		conn.WriteJSON(reply)
		s.mu.Unlock()
	}
}

func (s *storeServer) push(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.WriteJSON(env)
	}
}

func (s *storeServer) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *storeServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

type recorder struct {
	acks   chan queue.Ack
	events chan match.MatchEvent
	ups    chan bool
}

func connect(t *testing.T, s *storeServer) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{
		acks:   make(chan queue.Ack, 8),
		events: make(chan match.MatchEvent, 8),
		ups:    make(chan bool, 8),
	}
	c := NewClient(s.url(), "tok")
	c.minBackoff = 10 * time.Millisecond
	c.maxBackoff = 40 * time.Millisecond
	c.OnAck(func(a queue.Ack) { rec.acks <- a })
	c.OnEvent(func(ev match.MatchEvent) { rec.events <- ev })
	c.OnConnect(func() { rec.ups <- true })
	c.OnDisconnect(func() { rec.ups <- false })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		c.Close()
	})
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectUp(t, rec, true)
	return c, rec
}

func expectUp(t *testing.T, rec *recorder, want bool) {
	t.Helper()
	select {
	case got := <-rec.ups:
		if got != want {
			t.Fatalf("connection change = %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connected=%v", want)
	}
}

func submit(key string) match.MatchEvent {
	return match.MatchEvent{
		IdempotencyKey: key,
		MatchID:        "m1",
		Period:         1,
		MatchClock:     match.MustClock("10:00.000"),
		TeamID:         "home",
		PlayerID:       "p1",
		Type:           match.EventPass,
		SourceOrigin:   match.OriginOperatorLive,
	}
}

func TestSendReceivesAck(t *testing.T) {
	s := newStoreServer(t)
	c, rec := connect(t, s)

	if err := c.Send(context.Background(), submit("k1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case ack := <-rec.acks:
		if ack.IdempotencyKey != "k1" || ack.Status != queue.AckSuccess {
			t.Fatalf("ack = %+v, want success for k1", ack)
		}
		if ack.MatchID != "m1" {
			t.Fatalf("ack.MatchID = %q, want m1 from the envelope", ack.MatchID)
		}
		if ack.ServerEventID != "srv-k1" {
			t.Fatalf("ack.ServerEventID = %q, want srv-k1", ack.ServerEventID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ack")
	}

	s.mu.Lock()
	auth := s.auth
	s.mu.Unlock()
	if auth != "Bearer tok" {
		t.Fatalf("Authorization = %q, want Bearer tok", auth)
	}
}

func TestServerEventDelivered(t *testing.T) {
	s := newStoreServer(t)
	_, rec := connect(t, s)

	ev := submit("ing-1")
	ev.MatchID = ""
	ev.SourceOrigin = match.OriginIngestion
	env, err := NewEnvelope(TypeEvent, "m1", time.Now(), ev)
	if err != nil {
		t.Fatal(err)
	}
	s.push(env)

	select {
	case got := <-rec.events:
		if got.MatchID != "m1" || got.IdempotencyKey != "ing-1" {
			t.Fatalf("event = %+v, want m1/ing-1", got)
		}
		if got.MatchClock != match.MustClock("10:00.000") {
			t.Fatalf("clock = %s, want 10:00.000", got.MatchClock)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestForcedDisconnectSuppressesReconnect(t *testing.T) {
	s := newStoreServer(t)
	c, rec := connect(t, s)

	c.Disconnect()
	expectUp(t, rec, false)

	if c.Connected() {
		t.Fatal("Connected() = true after Disconnect")
	}
	err := c.Send(context.Background(), submit("k1"))
	if !errors.Is(err, match.ErrTransientSendFailure) {
		t.Fatalf("Send err = %v, want ErrTransientSendFailure", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := s.dialCount(); n != 1 {
		t.Fatalf("dials = %d while disconnected, want 1", n)
	}

	c.Reconnect()
	expectUp(t, rec, true)
	if n := s.dialCount(); n != 2 {
		t.Fatalf("dials = %d after Reconnect, want 2", n)
	}
	if err := c.Send(context.Background(), submit("k2")); err != nil {
		t.Fatalf("Send after Reconnect: %v", err)
	}
}

func TestDroppedConnectionReconnects(t *testing.T) {
	s := newStoreServer(t)
	c, rec := connect(t, s)

	s.drop()
	expectUp(t, rec, false)
	expectUp(t, rec, true)

	if !c.Connected() {
		t.Fatal("Connected() = false after automatic reconnect")
	}
	if n := s.dialCount(); n < 2 {
		t.Fatalf("dials = %d, want at least 2", n)
	}
}

func TestParseEnvelopeRejectsUntyped(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"ack", `{"type":"ack","match_id":"m1","payload":{}}`, true},
		{"missing type", `{"match_id":"m1"}`, false},
		{"garbage", `not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(tt.in))
			if (err == nil) != tt.ok {
				t.Fatalf("ParseEnvelope(%s) err = %v, want ok=%v", tt.in, err, tt.ok)
			}
		})
	}
}
