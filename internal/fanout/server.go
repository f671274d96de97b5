package fanout

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/matchsync/internal/events"
	"github.com/charleschow/matchsync/internal/telemetry"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type viewerClient struct {
	match string // empty follows every match
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
}

func (c *viewerClient) follows(matchID string) bool {
	return c.match == "" || matchID == "" || c.match == matchID
}

func (c *viewerClient) label() string {
	if c.match == "" {
		return "all"
	}
	return c.match
}

// Server fans out bus events to connected viewer WebSocket clients. New
// clients receive the latest snapshot of each followed match on join.
type Server struct {
	mu      sync.Mutex
	clients map[*viewerClient]struct{}
	last    map[string][]byte // match id -> latest snapshot frame
}

func NewServer(bus *events.Bus) *Server {
	s := &Server{
		clients: make(map[*viewerClient]struct{}),
		last:    make(map[string][]byte),
	}
	bus.Subscribe(s.forward, events.AllTypes...)
	return s
}

// forward is called on the publisher's goroutine. It serializes the event
// and enqueues it to matching clients' send channels (non-blocking).
func (s *Server) forward(evt events.Event) error {
	data, err := MarshalEvent(evt)
	if err != nil {
		telemetry.Warnf("fanout: marshal error: %v", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Type == events.EventSnapshot && evt.MatchID != "" {
		s.last[evt.MatchID] = data
	}
	for c := range s.clients {
		if !c.follows(evt.MatchID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			telemetry.Warnf("fanout: dropping message for slow viewer match=%s", c.label())
		}
	}
	return nil
}

// HandleWS is the HTTP handler for WebSocket upgrade requests. Viewers
// follow one match with ?match=<id>, or every match without it.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	c := &viewerClient{
		match: r.URL.Query().Get("match"),
		conn:  conn,
		send:  make(chan []byte, clientSendBuf),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	for id, frame := range s.last {
		if !c.follows(id) {
			continue
		}
		select {
		case c.send <- frame:
		default:
		}
	}
	s.mu.Unlock()
	telemetry.Metrics.ViewerClients.Inc()

	telemetry.Plainf("Fanout: Viewer Connected [%s]", c.label())

	go s.writePump(c)
	go s.readPump(c)
}

// writePump drains the client's send channel and writes to the WS connection.
// It owns the client lifecycle: on exit it removes the client from the map
// (so forward never sends to a stale channel) and closes the connection.
func (s *Server) writePump(c *viewerClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Warnf("fanout: write error match=%s: %v", c.label(), err)
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive by reading pongs / close frames.
// No upstream messages are expected from viewers.
// On exit it signals writePump via c.done (never closes c.send).
func (s *Server) readPump(c *viewerClient) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *viewerClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	telemetry.Metrics.ViewerClients.Dec()
	telemetry.Plainf("Fanout: Viewer Disconnected [%s]", c.label())
}

// ListenAndServe starts the fanout WebSocket server. A non-nil metrics
// handler is mounted on /metrics.
func (s *Server) ListenAndServe(port int, metrics http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	addr := fmt.Sprintf(":%d", port)
	telemetry.Plainf("fanout: server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
