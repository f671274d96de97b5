// operator is the match event logging harness. It opens one session per
// match against the event store, logs events typed on stdin, and serves
// live views to viewers over the fanout WebSocket.
//
// Usage:
//
//	operator run --match MOCK-1 [--match MOCK-2] [--role analyst]
//	operator token --user alice --role admin
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/charleschow/matchsync/internal/adapters/auth_jwt"
	"github.com/charleschow/matchsync/internal/adapters/inbound/realtime_ws"
	"github.com/charleschow/matchsync/internal/adapters/outbound/eventstore_http"
	"github.com/charleschow/matchsync/internal/adapters/roster"
	"github.com/charleschow/matchsync/internal/config"
	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/queue"
	"github.com/charleschow/matchsync/internal/core/session"
	"github.com/charleschow/matchsync/internal/events"
	"github.com/charleschow/matchsync/internal/fanout"
	"github.com/charleschow/matchsync/internal/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: operator <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run --match ID [--match ID] [--role R]  Open matches and read commands from stdin")
	fmt.Println("  token --user U --role R                 Issue a session token (needs AUTH_SECRET)")
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "user id")
	role := fs.String("role", string(match.RoleAnalyst), "viewer, analyst or admin")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	fs.Parse(args)

	cfg := config.Load()
	if cfg.AuthSecret == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "AUTH_SECRET and --user are required")
		os.Exit(1)
	}
	tok, err := auth_jwt.NewVerifier(cfg.AuthSecret, *ttl).Issue(*user, match.ParseRole(*role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	matches := fs.StringSlice("match", nil, "match id to open (repeatable); the first becomes active")
	token := fs.String("token", "", "session token (default AUTH_TOKEN)")
	role := fs.String("role", "", "role when no AUTH_SECRET is configured")
	port := fs.Int("port", 0, "fanout/metrics port (default FANOUT_PORT)")
	fs.Parse(args)

	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting operator")

	if *token == "" {
		*token = cfg.AuthToken
	}
	if *port == 0 {
		*port = cfg.FanoutPort
	}

	sc, err := sessionContext(cfg, *token, *role)
	if err != nil {
		telemetry.Errorf("Auth: %v", err)
		os.Exit(1)
	}
	telemetry.Infof("Signed in  user=%s  role=%s", sc.UserID, sc.Role)

	// ── Competition rules + roster ──────────────────────────────
	rules, err := config.LoadCompetitionRules(cfg.RulesPath)
	if err != nil {
		telemetry.Errorf("Failed to load competition rules: %v", err)
		os.Exit(1)
	}

	var lineups *roster.FileProvider
	if cfg.RosterPath != "" {
		lineups, err = roster.LoadFile(cfg.RosterPath)
		if err != nil {
			telemetry.Warnf("Roster disabled: %v", err)
		}
	}

	// ── Outbox ──────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.OutboxPath), 0o755); err != nil {
		telemetry.Warnf("Outbox dir: %v", err)
	}
	outbox, err := queue.OpenStore(cfg.OutboxPath)
	if err != nil {
		telemetry.Errorf("Outbox: %v", err)
		os.Exit(1)
	}
	defer outbox.Close()

	// ── Event store + realtime channel ──────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	store := eventstore_http.NewClient(cfg.StoreURL, *token, cfg.StoreRateLimit)
	ws := realtime_ws.NewClient(cfg.RealtimeURL, *token)

	deps := session.Deps{
		Channel:   ws,
		Store:     store,
		Validator: store,
		Outbox:    outbox,
		Bus:       bus,
	}
	if lineups != nil {
		deps.Roster = lineups
	}
	reg := session.NewRegistry(cfg.Session(rules), deps)

	ws.OnAck(reg.HandleAck)
	ws.OnEvent(reg.HandleEvent)
	ws.OnConnect(func() { reg.SetConnected(ctx, true) })
	ws.OnDisconnect(func() { reg.SetConnected(ctx, false) })
	go connectWithRetry(ctx, ws)

	// ── Viewer fanout + /metrics ────────────────────────────────
	fan := fanout.NewServer(bus)
	go func() {
		if err := fan.ListenAndServe(*port, telemetry.Handler(telemetry.NewRegistry())); err != nil {
			telemetry.Errorf("Fanout server: %v", err)
		}
	}()

	// ── Sessions ────────────────────────────────────────────────
	for _, id := range *matches {
		if _, err := reg.Open(ctx, id); err != nil {
			telemetry.Errorf("Open %s: %v", id, err)
		}
	}

	go tickSessions(ctx, reg)

	con := &console{reg: reg, sc: sc, roster: lineups, ws: ws, out: os.Stdout}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("type 'help' for commands")
loop:
	for {
		select {
		case <-sigCh:
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			cmdCtx, cmdCancel := context.WithTimeout(ctx, 30*time.Second)
			err := con.exec(cmdCtx, line)
			cmdCancel()
			if errors.Is(err, errQuit) {
				break loop
			}
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
		}
	}

	telemetry.Infof("Shutting down...")
	reg.CloseAll()
	cancel()
	ws.Close()

	telemetry.Infof("Shutdown complete  logged=%d  acks=%d  duplicates=%d  retries=%d  failures=%d  queued=%d",
		telemetry.Metrics.EventsLogged.Value(),
		telemetry.Metrics.AcksReceived.Value(),
		telemetry.Metrics.AcksDuplicate.Value(),
		telemetry.Metrics.SendRetries.Value(),
		telemetry.Metrics.SendFailures.Value(),
		telemetry.Metrics.QueueDepth.Value(),
	)
}

// sessionContext verifies the token when a secret is configured. Without
// one the operator runs with the --role flag, for local mock testing.
func sessionContext(cfg *config.Config, token, role string) (match.SessionContext, error) {
	if cfg.AuthSecret == "" {
		if role == "" {
			role = string(match.RoleAnalyst)
		}
		telemetry.Warnf("AUTH_SECRET not set, running unauthenticated as %s", role)
		return match.SessionContext{Role: match.ParseRole(role), UserID: "local"}, nil
	}
	if token == "" {
		return match.SessionContext{}, errors.New("no token, pass --token or set AUTH_TOKEN")
	}
	return auth_jwt.NewVerifier(cfg.AuthSecret, 0).Verify(token)
}

// connectWithRetry keeps dialing until the first connection succeeds;
// after that the client reconnects on its own. Sessions queue offline
// meanwhile.
func connectWithRetry(ctx context.Context, ws *realtime_ws.Client) {
	backoff := time.Second
	for {
		err := ws.Connect(ctx)
		if err == nil {
			return
		}
		telemetry.Warnf("Realtime WS: %v, retrying in %s", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func tickSessions(ctx context.Context, reg *session.Registry) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, s := range reg.All() {
				s.Tick()
			}
		}
	}
}
