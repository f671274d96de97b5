package stoppage

import (
	"math"

	"github.com/charleschow/matchsync/internal/core/match"
)

// Slice holds ineffective-time totals (seconds) for one period or for the
// whole match. Team keys include match.NeutralTeam for stoppages nobody is
// charged with.
type Slice struct {
	ByTeam       map[string]float64                         `json:"by_team"`
	ByTeamAction map[string]map[match.TriggerAction]float64 `json:"by_team_action"`
	InjuryByTeam map[string]float64                         `json:"injury_by_team"`
	Total        float64                                    `json:"total"`
	VAR          float64                                    `json:"var"`
}

func newSlice() *Slice {
	return &Slice{
		ByTeam:       make(map[string]float64),
		ByTeamAction: make(map[string]map[match.TriggerAction]float64),
		InjuryByTeam: make(map[string]float64),
	}
}

func (s *Slice) add(team string, action match.TriggerAction, sec float64) {
	s.ByTeam[team] += sec
	if s.ByTeamAction[team] == nil {
		s.ByTeamAction[team] = make(map[match.TriggerAction]float64)
	}
	s.ByTeamAction[team][action] += sec
	if action == match.TriggerInjury {
		s.InjuryByTeam[team] += sec
	}
	s.Total += sec
}

// Comparable is the team's ineffective time counted in the team vs opponent
// comparison: injuries are excluded (VAR never reaches team totals).
func (s *Slice) Comparable(team string) float64 {
	return s.ByTeam[team] - s.InjuryByTeam[team]
}

// Aggregates are the folded ineffective-time totals of a match.
type Aggregates struct {
	Overall  *Slice         `json:"overall"`
	ByPeriod map[int]*Slice `json:"by_period"`
	// Open is true when a ClockStop has no matching ClockStart yet.
	Open bool `json:"open"`
	// VAROpen is true when a VARStart has no matching VARStop yet.
	VAROpen bool `json:"var_open"`
}

func (a Aggregates) Period(p int) *Slice {
	if s, ok := a.ByPeriod[p]; ok {
		return s
	}
	return newSlice()
}

// ComparativeShare returns each listed team's share (0-100) of the combined
// comparable ineffective time. Zero when nothing has been charged.
func (a Aggregates) ComparativeShare(teams ...string) map[string]float64 {
	out := make(map[string]float64, len(teams))
	var sum float64
	for _, t := range teams {
		sum += a.Overall.Comparable(t)
	}
	for _, t := range teams {
		if sum > 0 {
			out[t] = a.Overall.Comparable(t) / sum * 100
		} else {
			out[t] = 0
		}
	}
	return out
}

type openStop struct {
	team   string
	action match.TriggerAction
	period int
	at     match.Clock
}

// Fold pairs ClockStop/ClockStart and VARStart/VARStop events from an
// ordered log. Each matched pair contributes its duration to the team,
// team x action and period totals at once; VAR pairs only feed the neutral
// VAR counters. A stoppage still open is counted up to asOf when asOf > 0.
func Fold(events []match.MatchEvent, asOf match.Clock) Aggregates {
	agg := Aggregates{Overall: newSlice(), ByPeriod: make(map[int]*Slice)}
	var stop, varStop *openStop

	period := func(p int) *Slice {
		s, ok := agg.ByPeriod[p]
		if !ok {
			s = newSlice()
			agg.ByPeriod[p] = s
		}
		return s
	}
	charge := func(o *openStop, end match.Clock) {
		sec := duration(o.at, end)
		agg.Overall.add(o.team, o.action, sec)
		period(o.period).add(o.team, o.action, sec)
	}
	chargeVAR := func(o *openStop, end match.Clock) {
		sec := duration(o.at, end)
		agg.Overall.VAR += sec
		period(o.period).VAR += sec
	}

	for _, ev := range events {
		if ev.Type != match.EventGameStoppage {
			continue
		}
		switch ev.Data.StoppageType {
		case match.StoppageClockStop:
			if stop != nil {
				continue
			}
			action := ev.Data.TriggerAction
			if action == "" {
				action = match.TriggerOther
			}
			stop = &openStop{team: ev.Team(), action: action, period: ev.Period, at: ev.MatchClock}
		case match.StoppageClockStart:
			if stop == nil {
				continue
			}
			charge(stop, ev.MatchClock)
			stop = nil
		case match.StoppageVARStart:
			if varStop != nil {
				continue
			}
			varStop = &openStop{team: match.NeutralTeam, action: match.TriggerVAR, period: ev.Period, at: ev.MatchClock}
		case match.StoppageVARStop:
			if varStop == nil {
				continue
			}
			chargeVAR(varStop, ev.MatchClock)
			varStop = nil
		}
	}

	if stop != nil {
		agg.Open = true
		if asOf > 0 {
			charge(stop, asOf)
		}
	}
	if varStop != nil {
		agg.VAROpen = true
		if asOf > 0 {
			chargeVAR(varStop, asOf)
		}
	}
	return agg
}

// duration never goes negative: a ClockStart stamped before its ClockStop
// (clock corrections) contributes nothing.
func duration(from, to match.Clock) float64 {
	return math.Max(0, (to - from).Seconds())
}
