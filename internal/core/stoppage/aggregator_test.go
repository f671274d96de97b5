package stoppage

import (
	"fmt"
	"math"
	"testing"

	"github.com/charleschow/matchsync/internal/core/match"
)

const eps = 1e-9

func stoppage(st match.StoppageType, team string, action match.TriggerAction, period int, clock string) match.MatchEvent {
	return match.MatchEvent{
		MatchID:    "m1",
		Period:     period,
		MatchClock: match.MustClock(clock),
		TeamID:     team,
		Type:       match.EventGameStoppage,
		Data:       match.EventData{StoppageType: st, TriggerAction: action},
	}
}

func sampleLog() []match.MatchEvent {
	return []match.MatchEvent{
		stoppage(match.StoppageClockStop, "home", match.TriggerOutOfBounds, 1, "05:00.000"),
		stoppage(match.StoppageClockStart, "", "", 1, "05:20.000"),
		stoppage(match.StoppageClockStop, "home", match.TriggerFoul, 1, "10:00.000"),
		stoppage(match.StoppageClockStart, "", "", 1, "10:45.500"),
		stoppage(match.StoppageClockStop, "away", match.TriggerInjury, 1, "20:00.000"),
		stoppage(match.StoppageClockStart, "", "", 1, "21:30.000"),
		stoppage(match.StoppageVARStart, "", "", 1, "30:00.000"),
		stoppage(match.StoppageVARStop, "", "", 1, "32:00.000"),
		stoppage(match.StoppageClockStop, "away", match.TriggerGoal, 2, "50:00.000"),
		stoppage(match.StoppageClockStart, "", "", 2, "51:00.000"),
		stoppage(match.StoppageClockStop, "", match.TriggerOther, 2, "60:00.000"),
		stoppage(match.StoppageClockStart, "", "", 2, "60:10.000"),
	}
}

func checkPartition(t *testing.T, name string, s *Slice) {
	t.Helper()
	var teamSum float64
	for team, total := range s.ByTeam {
		var actionSum float64
		for _, v := range s.ByTeamAction[team] {
			actionSum += v
		}
		if math.Abs(actionSum-total) > eps {
			t.Errorf("%s: team %s by-action sum = %v, total = %v", name, team, actionSum, total)
		}
		teamSum += total
	}
	if math.Abs(teamSum-s.Total) > eps {
		t.Errorf("%s: team sum = %v, grand total = %v", name, teamSum, s.Total)
	}
}

func TestFoldPartitionInvariant(t *testing.T) {
	agg := Fold(sampleLog(), 0)

	checkPartition(t, "overall", agg.Overall)
	for p, s := range agg.ByPeriod {
		checkPartition(t, fmt.Sprintf("period %d", p), s)
	}

	if got := agg.Overall.ByTeam["home"]; math.Abs(got-65.5) > eps {
		t.Fatalf("home = %v, want 65.5", got)
	}
	if got := agg.Overall.ByTeam["away"]; math.Abs(got-150) > eps {
		t.Fatalf("away = %v, want 150", got)
	}
	if got := agg.Overall.ByTeam[match.NeutralTeam]; math.Abs(got-10) > eps {
		t.Fatalf("neutral = %v, want 10", got)
	}
	if got := agg.Period(2).ByTeam["away"]; math.Abs(got-60) > eps {
		t.Fatalf("away period 2 = %v, want 60", got)
	}
}

func TestVARExcludedFromTeamTotals(t *testing.T) {
	agg := Fold(sampleLog(), 0)

	if agg.Overall.VAR != 120 {
		t.Fatalf("var = %v, want 120", agg.Overall.VAR)
	}
	for team, byAction := range agg.Overall.ByTeamAction {
		if _, ok := byAction[match.TriggerVAR]; ok {
			t.Fatalf("team %s carries VAR time", team)
		}
	}
	if agg.Overall.Total != 65.5+150+10 {
		t.Fatalf("total = %v, want VAR excluded", agg.Overall.Total)
	}
}

func TestComparativeShareExcludesInjury(t *testing.T) {
	agg := Fold(sampleLog(), 0)
	share := agg.ComparativeShare("home", "away")

	// home 65.5 comparable, away 150-90 injury = 60
	want := 65.5 / 125.5 * 100
	if math.Abs(share["home"]-want) > 1e-6 {
		t.Fatalf("home share = %v, want %v", share["home"], want)
	}
	if math.Abs(share["home"]+share["away"]-100) > 1e-6 {
		t.Fatalf("shares = %v, want them to sum to 100", share)
	}
}

func TestOpenStoppageCountedUpToAsOf(t *testing.T) {
	log := []match.MatchEvent{
		stoppage(match.StoppageClockStop, "home", match.TriggerFoul, 1, "05:00.000"),
		stoppage(match.StoppageClockStop, "away", match.TriggerFoul, 1, "05:10.000"),
	}
	agg := Fold(log, match.MustClock("05:30.000"))
	if !agg.Open {
		t.Fatal("expected open stoppage")
	}
	if agg.Overall.ByTeam["home"] != 30 {
		t.Fatalf("home = %v, want 30 (first stop wins)", agg.Overall.ByTeam["home"])
	}
	if _, ok := agg.Overall.ByTeam["away"]; ok {
		t.Fatal("second ClockStop while open must be ignored")
	}

	closed := Fold(log, 0)
	if closed.Overall.Total != 0 {
		t.Fatalf("total without asOf = %v, want 0", closed.Overall.Total)
	}
}

func TestUnmatchedClockStartIgnored(t *testing.T) {
	agg := Fold([]match.MatchEvent{stoppage(match.StoppageClockStart, "", "", 1, "05:00.000")}, 0)
	if agg.Overall.Total != 0 || agg.Open {
		t.Fatalf("agg = %+v, want empty", agg.Overall)
	}
}
