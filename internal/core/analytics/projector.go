package analytics

import (
	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/stoppage"
)

// TeamStats are the KPIs of one side.
type TeamStats struct {
	TeamID         string  `json:"team_id"`
	Goals          int     `json:"goals"`
	Shots          int     `json:"shots"`
	ShotsOnTarget  int     `json:"shots_on_target"`
	ShotsOffTarget int     `json:"shots_off_target"`
	ShotsBlocked   int     `json:"shots_blocked"`
	Passes         int     `json:"passes"`
	AccuratePasses int     `json:"accurate_passes"`
	DuelsWon       int     `json:"duels_won"`
	Fouls          int     `json:"fouls"`
	YellowCards    int     `json:"yellow_cards"`
	RedCards       int     `json:"red_cards"`
	Corners        int     `json:"corners"`
	Offsides       int     `json:"offsides"`
	Substitutions  int     `json:"substitutions"`

	IneffectiveSeconds float64 `json:"ineffective_seconds"`
	// IneffectiveShare is this side's share of the combined team vs
	// opponent ineffective time, injuries and VAR excluded.
	IneffectiveShare float64 `json:"ineffective_share"`
	EffectivePct     float64 `json:"effective_pct"`
}

func (s TeamStats) PassAccuracy() float64 {
	if s.Passes == 0 {
		return 0
	}
	return float64(s.AccuratePasses) / float64(s.Passes) * 100
}

// Analytics is the projection of a match log.
type Analytics struct {
	Home             TeamStats `json:"home"`
	Away             TeamStats `json:"away"`
	EventCount       int       `json:"event_count"`
	VARDecisions     int       `json:"var_decisions"`
	VARSeconds       float64   `json:"var_seconds"`
	ElapsedSeconds   float64   `json:"elapsed_seconds"`
	IneffectiveTotal float64   `json:"ineffective_total"`
	EffectivePct     float64   `json:"effective_pct"`
}

// Input is everything the projection reads. Events must already be ordered
// and deduplicated.
type Input struct {
	Events         []match.MatchEvent
	HomeTeamID     string
	AwayTeamID     string
	Discipline     rules.Discipline
	Stoppages      stoppage.Aggregates
	ElapsedSeconds float64
}

// Project folds the log into KPIs. It has no side effects and keeps no
// state between calls, so projecting the same log always gives the same
// answer regardless of how the log was assembled.
func Project(in Input) Analytics {
	a := Analytics{
		Home:           TeamStats{TeamID: in.HomeTeamID},
		Away:           TeamStats{TeamID: in.AwayTeamID},
		EventCount:     len(in.Events),
		ElapsedSeconds: in.ElapsedSeconds,
	}
	side := func(teamID string) *TeamStats {
		switch teamID {
		case in.HomeTeamID:
			return &a.Home
		case in.AwayTeamID:
			return &a.Away
		}
		return nil
	}
	opponent := func(teamID string) *TeamStats {
		switch teamID {
		case in.HomeTeamID:
			return &a.Away
		case in.AwayTeamID:
			return &a.Home
		}
		return nil
	}

	for _, ev := range in.Events {
		if ev.Type == match.EventVARDecision {
			a.VARDecisions++
			continue
		}
		s := side(ev.TeamID)
		if s == nil {
			continue
		}
		switch ev.Type {
		case match.EventShot:
			projectShot(s, opponent(ev.TeamID), ev.Data.Outcome)
		case match.EventPass:
			s.Passes++
			if ev.Data.Outcome != match.OutcomeIncomplete {
				s.AccuratePasses++
			}
		case match.EventDuel:
			if ev.Data.Outcome == match.OutcomeWon {
				s.DuelsWon++
			}
		case match.EventFoulCommitted:
			s.Fouls++
		case match.EventOffside:
			s.Offsides++
		case match.EventSetPiece:
			if ev.Data.SetPieceType == match.SetPieceCorner {
				s.Corners++
			}
		case match.EventSubstitution:
			s.Substitutions++
		}
	}

	a.Home.YellowCards, a.Home.RedCards = in.Discipline.TeamCards(in.HomeTeamID)
	a.Away.YellowCards, a.Away.RedCards = in.Discipline.TeamCards(in.AwayTeamID)

	overall := in.Stoppages.Overall
	if overall != nil {
		a.Home.IneffectiveSeconds = overall.ByTeam[in.HomeTeamID]
		a.Away.IneffectiveSeconds = overall.ByTeam[in.AwayTeamID]
		a.IneffectiveTotal = overall.Total
		a.VARSeconds = overall.VAR
		share := in.Stoppages.ComparativeShare(in.HomeTeamID, in.AwayTeamID)
		a.Home.IneffectiveShare = share[in.HomeTeamID]
		a.Away.IneffectiveShare = share[in.AwayTeamID]
	}
	if in.ElapsedSeconds > 0 {
		a.EffectivePct = clampPct((in.ElapsedSeconds - a.IneffectiveTotal - a.VARSeconds) / in.ElapsedSeconds * 100)
		a.Home.EffectivePct = clampPct((in.ElapsedSeconds - a.Home.IneffectiveSeconds) / in.ElapsedSeconds * 100)
		a.Away.EffectivePct = clampPct((in.ElapsedSeconds - a.Away.IneffectiveSeconds) / in.ElapsedSeconds * 100)
	}
	return a
}

// projectShot credits an own goal to the opponent of the scorer's team.
func projectShot(s, opp *TeamStats, outcome string) {
	if outcome == match.OutcomeOwnGoal {
		if opp != nil {
			opp.Goals++
		}
		return
	}
	s.Shots++
	switch outcome {
	case match.OutcomeGoal:
		s.Goals++
		s.ShotsOnTarget++
	case match.OutcomeSaved:
		s.ShotsOnTarget++
	case match.OutcomeOffTarget, match.OutcomePost:
		s.ShotsOffTarget++
	case match.OutcomeBlocked:
		s.ShotsBlocked++
	}
}

func clampPct(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
