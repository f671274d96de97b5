package rules

import (
	"context"
	"fmt"

	"github.com/charleschow/matchsync/internal/core/match"
)

// Lineup is the match-day squad of both teams.
type Lineup struct {
	HomeTeamID string
	AwayTeamID string
	Players    map[string][]string // team id -> player ids
}

func (l Lineup) Opponent(teamID string) string {
	switch teamID {
	case l.HomeTeamID:
		return l.AwayTeamID
	case l.AwayTeamID:
		return l.HomeTeamID
	}
	return ""
}

func (l Lineup) HasPlayer(teamID, playerID string) bool {
	for _, p := range l.Players[teamID] {
		if p == playerID {
			return true
		}
	}
	return false
}

// RosterProvider supplies lineups. Satisfied by *roster.FileProvider.
type RosterProvider interface {
	Lineup(ctx context.Context, matchID string) (Lineup, error)
}

// CheckEligible rejects actions naming an expelled player or a player
// outside the team's squad. An empty lineup skips the squad check.
func CheckEligible(ev match.MatchEvent, disc Discipline, lineup Lineup) error {
	cancelling := ev.Type == match.EventCard && ev.Data.CardType == match.CardCancelled
	if ev.PlayerID != "" && !cancelling && disc.Expelled(ev.PlayerID) {
		return match.Expelled("player_id", ev.PlayerID)
	}
	if ev.Type == match.EventSubstitution && disc.Expelled(ev.Data.PlayerOn) {
		return match.Expelled("data.player_on", ev.Data.PlayerOn)
	}
	if len(lineup.Players) == 0 || ev.TeamID == "" || ev.TeamID == match.NeutralTeam {
		return nil
	}
	if _, ok := lineup.Players[ev.TeamID]; !ok {
		return &match.ValidationError{Field: "team_id", Msg: fmt.Sprintf("team %s is not playing this match", ev.TeamID)}
	}
	if ev.PlayerID != "" && !lineup.HasPlayer(ev.TeamID, ev.PlayerID) {
		return &match.ValidationError{Field: "player_id", Msg: fmt.Sprintf("player %s is not in the %s squad", ev.PlayerID, ev.TeamID)}
	}
	if ev.Type == match.EventSubstitution && !lineup.HasPlayer(ev.TeamID, ev.Data.PlayerOn) {
		return &match.ValidationError{Field: "data.player_on", Msg: fmt.Sprintf("player %s is not in the %s squad", ev.Data.PlayerOn, ev.TeamID)}
	}
	return nil
}
