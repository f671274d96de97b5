// viewer is the companion display: it follows the operator's fanout
// server and prints the timeline and analytics as they change.
//
// Usage:
//
//	viewer --addr localhost:8100 [--match MOCK-1]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/session"
	"github.com/charleschow/matchsync/internal/events"
	"github.com/charleschow/matchsync/internal/fanout"
	"github.com/charleschow/matchsync/internal/telemetry"
)

func main() {
	addr := flag.String("addr", "localhost:8100", "fanout server host:port")
	matchID := flag.String("match", "", "follow one match (default all)")
	events_ := flag.Bool("events", false, "also print every notification")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	telemetry.Init(telemetry.ParseLogLevel(*logLevel))

	bus := events.NewBus()
	bus.Subscribe(printSnapshot, events.EventSnapshot)
	bus.Subscribe(printNotice, events.EventBanner, events.EventConflict, events.EventTransition,
		events.EventExpelled, events.EventConnection)
	if *events_ {
		bus.Subscribe(printEntry, events.EventEntryStatus)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fanout.NewClient(*addr, *matchID, bus).ConnectWithRetry(ctx)
}

func printSnapshot(e events.Event) error {
	raw, ok := e.Payload.(json.RawMessage)
	if !ok {
		return fmt.Errorf("snapshot payload %T", e.Payload)
	}
	var v session.View
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode view: %w", err)
	}

	a := v.Analytics
	fmt.Printf("\n%s  %s  %s  %s %d - %d %s  eff %.0f%%  queued=%d\n",
		v.MatchID, v.State.Status, match.ClockFromSeconds(v.State.MatchTimeSeconds),
		v.HomeTeamID, a.Home.Goals, a.Away.Goals, v.AwayTeamID, a.EffectivePct, v.QueuedBadge())
	start := max(0, len(v.Events)-5)
	for _, ev := range v.Events[start:] {
		fmt.Printf("  %s %-16s %-6s %s\n", ev.MatchClock, ev.Type, ev.TeamID, ev.PlayerID)
	}
	return nil
}

func printNotice(e events.Event) error {
	switch p := e.Payload.(type) {
	case events.BannerEvent:
		fmt.Printf("! %s duplicate: %s\n", p.MatchID, p.Message)
	case events.ConflictEvent:
		fmt.Printf("! %s conflict %s at %s (%s vs %s)\n", p.MatchID, p.EventType, p.Clock, p.Canonical, p.Duplicate)
	case events.TransitionEvent:
		fmt.Printf("> %s %s -> %s\n", p.MatchID, p.From, p.To)
	case events.ExpelledEvent:
		fmt.Printf("! %s player %s (%s) expelled\n", p.MatchID, p.PlayerID, p.TeamID)
	case events.ConnectionEvent:
		fmt.Printf("~ store connection up=%v\n", p.Connected)
	}
	return nil
}

func printEntry(e events.Event) error {
	if p, ok := e.Payload.(events.EntryStatusEvent); ok {
		fmt.Printf("  %s %s %s retries=%d %s\n", p.MatchID, p.IdempotencyKey, p.Status, p.RetryCount, p.Error)
	}
	return nil
}
