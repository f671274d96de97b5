package main

import (
	"testing"

	"github.com/charleschow/matchsync/internal/core/match"
)

func TestParseLog(t *testing.T) {
	now := match.MustClock("12:00.000")
	tests := []struct {
		name string
		args []string
		want match.MatchEvent
	}{
		{
			name: "pass with clock from state",
			args: []string{"pass", "home", "p9", "outcome=Complete"},
			want: match.MatchEvent{Type: match.EventPass, TeamID: "home", PlayerID: "p9", MatchClock: now, Data: match.EventData{Outcome: "Complete"}},
		},
		{
			name: "card at explicit clock",
			args: []string{"Card", "away", "p4", "card=SecondYellow", "at=67:12.500"},
			want: match.MatchEvent{Type: match.EventCard, TeamID: "away", PlayerID: "p4", MatchClock: match.MustClock("67:12.500"), Data: match.EventData{CardType: match.CardSecondYellow}},
		},
		{
			name: "neutral stoppage",
			args: []string{"gamestoppage", "stoppage=ClockStop", "trigger=Injury"},
			want: match.MatchEvent{Type: match.EventGameStoppage, MatchClock: now, Data: match.EventData{StoppageType: match.StoppageClockStop, TriggerAction: match.TriggerInjury}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLog(tt.args, now)
			if err != nil {
				t.Fatalf("parseLog: %v", err)
			}
			if got != tt.want {
				t.Fatalf("parseLog = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseLogErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"goal", "home"},
		{"pass", "home", "p1", "extra"},
		{"pass", "home", "speed=fast"},
		{"pass", "home", "at=7"},
	}
	for _, args := range tests {
		if _, err := parseLog(args, 0); err == nil {
			t.Fatalf("parseLog(%v) err = nil, want error", args)
		}
	}
}
