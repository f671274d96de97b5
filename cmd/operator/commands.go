package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charleschow/matchsync/internal/adapters/inbound/realtime_ws"
	"github.com/charleschow/matchsync/internal/adapters/roster"
	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/session"
	"github.com/charleschow/matchsync/internal/core/state/period"
)

var eventTypes = map[string]match.EventType{}

func init() {
	for _, t := range []match.EventType{
		match.EventPass, match.EventShot, match.EventDuel, match.EventFoulCommitted,
		match.EventCard, match.EventInterception, match.EventClearance, match.EventBlock,
		match.EventRecovery, match.EventOffside, match.EventSetPiece, match.EventGoalkeeperAction,
		match.EventSubstitution, match.EventGameStoppage, match.EventVARDecision,
	} {
		eventTypes[strings.ToLower(string(t))] = t
	}
}

var errQuit = errors.New("quit")

// console executes one operator command line at a time.
type console struct {
	reg    *session.Registry
	sc     match.SessionContext
	roster *roster.FileProvider
	ws     *realtime_ws.Client
	out    io.Writer
}

const help = `commands:
  log <type> <team> [player] [k=v ...]   log an event (outcome= card= cancels= stoppage= trigger= setpiece= decision= at=mm:ss.mmm)
  sub <team> <off> <on> [concussion]     substitution (remote validated)
  status <target> [override]             period transition, e.g. status Halftime
  mode WALL|EFFECTIVE                    switch clock mode
  effective                              start/stop the effective clock
  undo                                   remove the last logged event
  show                                   print the active match
  queue                                  list queued submissions across matches
  retry <key> | discard <key>            act on a failed submission
  dismiss <banner-id>                    dismiss a duplicate banner
  resolve <conflict-id> keep|drop        settle a cross-source conflict
  open <match> | use <match>             open a match / make it active
  disconnect | reconnect                 force the realtime channel down/up
  quit`

func (c *console) active() (*session.Session, error) {
	s, ok := c.reg.Active()
	if !ok {
		return nil, errors.New("no active match, use 'open <match>'")
	}
	return s, nil
}

func (c *console) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(c.out, help)
		return nil
	case "quit", "exit":
		return errQuit
	case "open":
		if len(args) != 1 {
			return errors.New("usage: open <match>")
		}
		_, err := c.reg.Open(ctx, args[0])
		return err
	case "use":
		if len(args) != 1 {
			return errors.New("usage: use <match>")
		}
		return c.reg.SetActive(args[0])
	case "disconnect":
		c.ws.Disconnect()
		return nil
	case "reconnect":
		c.ws.Reconnect()
		return nil
	case "queue":
		for id, entries := range c.reg.QueuedEventsByMatch() {
			for _, e := range entries {
				fmt.Fprintf(c.out, "%s  %-12s %-14s %s retries=%d %s\n", id, e.Status, e.Event.Type, e.Key(), e.RetryCount, e.LastError)
			}
		}
		return nil
	}

	s, err := c.active()
	if err != nil {
		return err
	}

	switch cmd {
	case "log":
		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		draft, err := parseLog(args, match.ClockFromSeconds(v.State.MatchTimeSeconds))
		if err != nil {
			return err
		}
		draft.PlayerID = c.resolvePlayer(s.MatchID, draft.TeamID, draft.PlayerID)
		e, err := s.LogEvent(ctx, c.sc, draft)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s %s %s [%s]\n", e.Event.MatchClock, e.Event.Type, e.Key(), e.Status)
	case "sub":
		if len(args) < 3 {
			return errors.New("usage: sub <team> <off> <on> [concussion]")
		}
		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		d := session.SubstitutionDraft{
			TeamID:       args[0],
			PlayerOff:    c.resolvePlayer(s.MatchID, args[0], args[1]),
			PlayerOn:     c.resolvePlayer(s.MatchID, args[0], args[2]),
			IsConcussion: len(args) > 3 && args[3] == "concussion",
			MatchClock:   match.ClockFromSeconds(v.State.MatchTimeSeconds),
		}
		e, verdict, err := s.Substitute(ctx, c.sc, d)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "substitution %s [%s] remaining=%d windows=%d\n",
			e.Key(), e.Status, verdict.TeamStatus.RemainingSubstitutions, verdict.TeamStatus.RemainingWindows)
	case "status":
		if len(args) < 1 {
			return errors.New("usage: status <target> [override]")
		}
		snap, err := s.Transition(ctx, c.sc, period.Status(args[0]), len(args) > 1 && args[1] == "override")
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "status %s at %s\n", snap.Status, match.ClockFromSeconds(snap.MatchTimeSeconds))
	case "mode":
		if len(args) != 1 {
			return errors.New("usage: mode WALL|EFFECTIVE")
		}
		return s.SetClockMode(ctx, c.sc, period.ClockMode(strings.ToUpper(args[0])))
	case "effective":
		on, err := s.ToggleEffective(ctx, c.sc)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "effective clock running=%v\n", on)
	case "undo":
		ev, err := s.UndoLastEvent(ctx, c.sc)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "undone %s %s at %s\n", ev.Type, ev.IdempotencyKey, ev.MatchClock)
	case "retry", "discard":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <key>", cmd)
		}
		if cmd == "retry" {
			return s.RetryFailed(ctx, c.sc, args[0])
		}
		return s.DiscardFailed(ctx, c.sc, args[0])
	case "dismiss":
		if len(args) != 1 {
			return errors.New("usage: dismiss <banner-id>")
		}
		ok, err := s.DismissBanner(ctx, args[0])
		if err == nil && !ok {
			err = fmt.Errorf("no banner %s", args[0])
		}
		return err
	case "resolve":
		if len(args) != 2 || (args[1] != "keep" && args[1] != "drop") {
			return errors.New("usage: resolve <conflict-id> keep|drop")
		}
		return s.ResolveConflict(ctx, c.sc, args[0], args[1] == "keep")
	case "show":
		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		printView(c.out, v)
	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
	return nil
}

func (c *console) resolvePlayer(matchID, teamID, ref string) string {
	if c.roster == nil || ref == "" {
		return ref
	}
	if id, ok := c.roster.Resolve(matchID, teamID, ref); ok {
		return id
	}
	return ref
}

// parseLog turns "log" arguments into a draft. now fills the clock when
// at= is absent.
func parseLog(args []string, now match.Clock) (match.MatchEvent, error) {
	if len(args) < 1 {
		return match.MatchEvent{}, errors.New("usage: log <type> <team> [player] [k=v ...]")
	}
	t, ok := eventTypes[strings.ToLower(args[0])]
	if !ok {
		return match.MatchEvent{}, fmt.Errorf("unknown event type %q", args[0])
	}
	ev := match.MatchEvent{Type: t, MatchClock: now}

	var positional []string
	for _, a := range args[1:] {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			positional = append(positional, a)
			continue
		}
		switch strings.ToLower(k) {
		case "outcome":
			ev.Data.Outcome = v
		case "card":
			ev.Data.CardType = match.CardType(v)
		case "cancels":
			ev.Data.Cancels = v
		case "stoppage":
			ev.Data.StoppageType = match.StoppageType(v)
		case "trigger":
			ev.Data.TriggerAction = match.TriggerAction(v)
		case "setpiece":
			ev.Data.SetPieceType = v
		case "decision":
			ev.Data.Decision = v
		case "at":
			c, err := match.ParseClock(v)
			if err != nil {
				return match.MatchEvent{}, err
			}
			ev.MatchClock = c
		default:
			return match.MatchEvent{}, fmt.Errorf("unknown field %q", k)
		}
	}

	if len(positional) > 2 {
		return match.MatchEvent{}, fmt.Errorf("unexpected argument %q", positional[2])
	}
	if len(positional) > 0 {
		ev.TeamID = positional[0]
	}
	if len(positional) > 1 {
		ev.PlayerID = positional[1]
	}
	return ev, nil
}

func printView(w io.Writer, v session.View) {
	fmt.Fprintf(w, "%s  %s  %s  mode=%s connected=%v queued=%d\n",
		v.MatchID, v.State.Status, match.ClockFromSeconds(v.State.MatchTimeSeconds), v.State.ClockMode, v.Connected, v.QueuedBadge())
	fmt.Fprintf(w, "  %s %d - %d %s   shots %d-%d  passes %d-%d  cards Y%d/R%d - Y%d/R%d  effective %.0f%%\n",
		v.HomeTeamID, v.Analytics.Home.Goals, v.Analytics.Away.Goals, v.AwayTeamID,
		v.Analytics.Home.Shots, v.Analytics.Away.Shots,
		v.Analytics.Home.Passes, v.Analytics.Away.Passes,
		v.Analytics.Home.YellowCards, v.Analytics.Home.RedCards,
		v.Analytics.Away.YellowCards, v.Analytics.Away.RedCards,
		v.Analytics.EffectivePct)
	for _, g := range v.State.Gates {
		if !g.Allowed {
			fmt.Fprintf(w, "  -> %s blocked: %s\n", g.Target, g.Reason)
		}
	}
	for _, r := range v.Timeline {
		fmt.Fprintf(w, "  %s P%d %-16s %-6s %-8s %-9s %s\n",
			r.Event.MatchClock, r.Event.Period, r.Event.Type, r.Event.TeamID, r.Event.PlayerID, r.State, r.Event.IdempotencyKey)
	}
	for _, b := range v.Banners {
		fmt.Fprintf(w, "  [banner %s] %s\n", b.ID, b.Message)
	}
	for _, c := range v.Conflicts {
		fmt.Fprintf(w, "  [conflict %s] %s %s: %s vs %s\n", c.ID, c.Canonical.MatchClock, c.Canonical.Type, c.Canonical.ServerEventID, c.Duplicate.ServerEventID)
	}
	for _, e := range v.Failed() {
		fmt.Fprintf(w, "  [failed %s] %s\n", e.Key(), e.LastError)
	}
}
