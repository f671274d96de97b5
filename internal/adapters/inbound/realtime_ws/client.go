package realtime_ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/telemetry"
)

const (
	defaultMinBackoff = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
	writeWait         = 5 * time.Second
	// The store pings every 10s; 30s gives 3 missed pings before timeout.
	pingWait = 30 * time.Second
)

// Client is the bidirectional realtime channel to the event store. It
// satisfies queue.Channel: Send writes a submit_event frame and the
// matching ack arrives later through the OnAck callback.
//
// Gorilla/websocket supports one concurrent reader and one concurrent
// writer, so all writes are serialized through mu.
type Client struct {
	url    string
	header http.Header
	done   chan struct{}
	quit   chan struct{}
	once   sync.Once

	minBackoff time.Duration
	maxBackoff time.Duration

	onAck        func(queue.Ack)
	onEvent      func(match.MatchEvent)
	onConnect    func()
	onDisconnect func()

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	forced    bool
	resume    chan struct{}
}

// NewClient builds a channel for wsURL. A non-empty token is sent as a
// bearer Authorization header on every dial.
func NewClient(wsURL, token string) *Client {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Client{
		url:        wsURL,
		header:     header,
		done:       make(chan struct{}),
		quit:       make(chan struct{}),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

// The callbacks must be registered before Connect. They run on the read
// goroutine.

func (c *Client) OnAck(fn func(queue.Ack))          { c.onAck = fn }
func (c *Client) OnEvent(fn func(match.MatchEvent)) { c.onEvent = fn }
func (c *Client) OnConnect(fn func())               { c.onConnect = fn }
func (c *Client) OnDisconnect(fn func())            { c.onDisconnect = fn }

func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.runLoop(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// runLoop reads frames and reconnects on failure with exponential backoff.
// After a forced Disconnect it waits for Reconnect instead.
func (c *Client) runLoop(ctx context.Context) {
	defer close(c.done)

	first := true
	for {
		if first {
			telemetry.Infof("[Realtime] WS connected to %s", c.url)
			first = false
		} else {
			telemetry.Infof("Realtime WS reconnected")
			telemetry.Metrics.Reconnects.Inc()
		}

		c.setConnected(true)
		c.readLoop(ctx)
		c.setConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		default:
		}

		if !c.redial(ctx) {
			return
		}
	}
}

// redial returns false when the client should stop.
func (c *Client) redial(ctx context.Context) bool {
	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		resumed, ok := c.waitResume(ctx)
		if !ok {
			return false
		}
		if !resumed {
			telemetry.Warnf("Realtime WS reconnecting (attempt %d) in %s", attempt, backoff)
			select {
			case <-ctx.Done():
				return false
			case <-c.quit:
				return false
			case <-time.After(backoff):
			}
		}
		if err := c.dial(ctx); err != nil {
			telemetry.Warnf("Realtime WS dial failed: %v", err)
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}
		if c.isForced() {
			c.closeConn()
			continue
		}
		return true
	}
}

// waitResume blocks while a forced disconnect is in effect. resumed
// reports whether it waited for Reconnect.
func (c *Client) waitResume(ctx context.Context) (resumed, ok bool) {
	c.mu.Lock()
	if !c.forced {
		c.mu.Unlock()
		return false, true
	}
	ch := c.resume
	c.mu.Unlock()

	telemetry.Infof("Realtime WS disconnected by operator, waiting for reconnect")
	select {
	case <-ctx.Done():
		return false, false
	case <-c.quit:
		return false, false
	case <-ch:
		return true, true
	}
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.isForced() {
				telemetry.Warnf("Realtime WS read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(pingWait))
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		telemetry.Warnf("realtime_ws: %v", err)
		return
	}

	switch env.Type {
	case TypeAck:
		var ack queue.Ack
		if err := env.Decode(&ack); err != nil {
			telemetry.Warnf("realtime_ws: %v", err)
			return
		}
		if ack.MatchID == "" {
			ack.MatchID = env.MatchID
		}
		telemetry.Metrics.AcksReceived.Inc()
		if c.onAck != nil {
			c.onAck(ack)
		}
	case TypeEvent:
		var ev match.MatchEvent
		if err := env.Decode(&ev); err != nil {
			telemetry.Warnf("realtime_ws: %v", err)
			return
		}
		if ev.MatchID == "" {
			ev.MatchID = env.MatchID
		}
		telemetry.Metrics.EventsInbound.Inc()
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	case TypeError:
		var p ErrorPayload
		_ = env.Decode(&p)
		telemetry.Warnf("realtime_ws: server error (match=%s): %s", env.MatchID, p.Message)
	default:
		telemetry.Debugf("realtime_ws: ignoring %q frame", env.Type)
	}
}

// Send writes one submission. A closed or broken channel yields
// ErrTransientSendFailure so the queue keeps the entry.
func (c *Client) Send(ctx context.Context, ev match.MatchEvent) error {
	env, err := NewEnvelope(TypeSubmitEvent, ev.MatchID, time.Now().UTC(), ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return fmt.Errorf("%w: channel disconnected", match.ErrTransientSendFailure)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: %v", match.ErrTransientSendFailure, err)
	}
	telemetry.Debugf("realtime_ws: submitted %s/%s", ev.MatchID, ev.IdempotencyKey)
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect drops the connection and suppresses automatic reconnection
// until Reconnect is called.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.forced {
		c.mu.Unlock()
		return
	}
	c.forced = true
	c.resume = make(chan struct{})
	c.mu.Unlock()

	c.closeConn()
}

// Reconnect lifts a forced Disconnect; the run loop dials immediately.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.forced {
		return
	}
	c.forced = false
	close(c.resume)
}

func (c *Client) isForced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forced
}

func (c *Client) setConnected(up bool) {
	c.mu.Lock()
	changed := c.connected != up
	c.connected = up
	c.mu.Unlock()

	if !changed {
		return
	}
	if up && c.onConnect != nil {
		c.onConnect()
	}
	if !up && c.onDisconnect != nil {
		c.onDisconnect()
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close stops the run loop for good.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.quit) })
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}
