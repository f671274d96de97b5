package rules

import (
	"context"
	"fmt"

	"github.com/charleschow/matchsync/internal/core/match"
)

// SubstitutionRequest is the key of a remote substitution validation.
type SubstitutionRequest struct {
	MatchID      string `json:"match_id"`
	TeamID       string `json:"team_id"`
	PlayerOff    string `json:"player_off"`
	PlayerOn     string `json:"player_on"`
	IsConcussion bool   `json:"is_concussion"`
}

// SubstitutionVerdict is the remote rule service's answer.
type SubstitutionVerdict struct {
	IsValid        bool             `json:"is_valid"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	OpensNewWindow bool             `json:"opens_new_window"`
	TeamStatus     match.TeamStatus `json:"team_status"`
}

// SubstitutionValidator is the remote rule service. Satisfied by
// *eventstore_http.Client.
type SubstitutionValidator interface {
	ValidateSubstitution(ctx context.Context, req SubstitutionRequest) (SubstitutionVerdict, error)
}

// Budget is the last-known substitution snapshot for one team.
type Budget struct {
	TeamID                 string `json:"team_id"`
	TotalSubstitutionsUsed int    `json:"total_substitutions_used"`
	MaxSubstitutions       int    `json:"max_substitutions"`
	WindowsUsed            int    `json:"windows_used"`
	MaxWindows             int    `json:"max_windows"`
	ConcussionSubsUsed     int    `json:"concussion_subs_used"`
	IsExtraTime            bool   `json:"is_extra_time"`
}

func (b Budget) RemainingSubstitutions() int { return b.MaxSubstitutions - b.TotalSubstitutionsUsed }
func (b Budget) RemainingWindows() int       { return b.MaxWindows - b.WindowsUsed }

func BudgetFromStatus(teamID string, ts match.TeamStatus) Budget {
	return Budget{
		TeamID:                 teamID,
		TotalSubstitutionsUsed: ts.TotalSubstitutions,
		MaxSubstitutions:       ts.MaxSubstitutions,
		WindowsUsed:            ts.WindowsUsed,
		MaxWindows:             ts.MaxWindows,
		ConcussionSubsUsed:     ts.ConcussionSubsUsed,
		IsExtraTime:            ts.IsExtraTime,
	}
}

// Applied returns the budget after the validated substitution is logged.
func (b Budget) Applied(v SubstitutionVerdict, concussion bool) Budget {
	b.TotalSubstitutionsUsed++
	if v.OpensNewWindow {
		b.WindowsUsed++
	}
	if concussion {
		b.ConcussionSubsUsed++
	}
	return b
}

// SubstitutionLimits are the competition maxima a budget starts from
// until the rule service reports the team's real status.
type SubstitutionLimits struct {
	MaxSubstitutions       int
	MaxWindows             int
	ExtraTimeSubstitutions int
	ExtraTimeWindows       int
}

func DefaultSubstitutionLimits() SubstitutionLimits {
	return SubstitutionLimits{MaxSubstitutions: 5, MaxWindows: 3, ExtraTimeSubstitutions: 1, ExtraTimeWindows: 1}
}

func (l SubstitutionLimits) Budget(teamID string) Budget {
	return Budget{TeamID: teamID, MaxSubstitutions: l.MaxSubstitutions, MaxWindows: l.MaxWindows}
}

// ExtraTime grants the extra-time allowance once.
func (l SubstitutionLimits) ExtraTime(b Budget) Budget {
	if b.IsExtraTime {
		return b
	}
	b.IsExtraTime = true
	b.MaxSubstitutions += l.ExtraTimeSubstitutions
	b.MaxWindows += l.ExtraTimeWindows
	return b
}

// CheckSubstitutionLocal runs the checks that need no round trip: an
// expelled player has already left the pitch and cannot be the player off.
func CheckSubstitutionLocal(req SubstitutionRequest, disc Discipline) error {
	if req.PlayerOff == "" || req.PlayerOn == "" {
		return &match.ValidationError{Field: "substitution", Msg: "player off and player on are required"}
	}
	if req.PlayerOff == req.PlayerOn {
		return &match.ValidationError{Field: "substitution", Msg: "player off and player on must differ"}
	}
	if disc.Expelled(req.PlayerOff) {
		return match.Expelled("player_off", req.PlayerOff)
	}
	if disc.Expelled(req.PlayerOn) {
		return match.Expelled("player_on", req.PlayerOn)
	}
	return nil
}

// ValidateSubstitution asks the remote rule service. Competition-wide
// limits are shared state, so nothing is applied until it answers valid.
func ValidateSubstitution(ctx context.Context, v SubstitutionValidator, req SubstitutionRequest) (SubstitutionVerdict, error) {
	verdict, err := v.ValidateSubstitution(ctx, req)
	if err != nil {
		return SubstitutionVerdict{}, fmt.Errorf("validate substitution: %w", err)
	}
	if !verdict.IsValid {
		msg := verdict.ErrorMessage
		if msg == "" {
			msg = "substitution not allowed"
		}
		return verdict, &match.SubstitutionViolation{Message: msg, TeamStatus: verdict.TeamStatus}
	}
	return verdict, nil
}
