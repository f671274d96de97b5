package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/state/period"
	"github.com/charleschow/matchsync/internal/telemetry"
)

// PeriodRules gates leaving one live period.
type PeriodRules struct {
	MinWallSeconds      float64 `yaml:"min_wall_seconds"`
	MinEffectiveSeconds float64 `yaml:"min_effective_seconds"`
	StartSeconds        float64 `yaml:"start_seconds"`
}

type SubstitutionRules struct {
	MaxSubstitutions       int `yaml:"max_substitutions"`
	MaxWindows             int `yaml:"max_windows"`
	ExtraTimeSubstitutions int `yaml:"extra_time_substitutions"`
	ExtraTimeWindows       int `yaml:"extra_time_windows"`
}

type CompetitionRules struct {
	Name          string                        `yaml:"name"`
	Periods       map[period.Status]PeriodRules `yaml:"periods"`
	Substitutions SubstitutionRules             `yaml:"substitutions"`
}

// DefaultCompetitionRules is a standard 90 + 30 minute competition with
// five substitutions in three windows.
func DefaultCompetitionRules() CompetitionRules {
	return CompetitionRules{
		Name: "default",
		Periods: map[period.Status]PeriodRules{
			period.StatusLiveFirstHalf:   {MinWallSeconds: 2700, StartSeconds: 0},
			period.StatusLiveSecondHalf:  {MinWallSeconds: 2700, StartSeconds: 2700},
			period.StatusLiveExtraFirst:  {MinWallSeconds: 900, StartSeconds: 5400},
			period.StatusLiveExtraSecond: {MinWallSeconds: 900, StartSeconds: 6300},
		},
		Substitutions: SubstitutionRules{
			MaxSubstitutions:       5,
			MaxWindows:             3,
			ExtraTimeSubstitutions: 1,
			ExtraTimeWindows:       1,
		},
	}
}

// LoadCompetitionRules reads a rules file. A missing file yields the
// defaults; sections left out of the file keep their defaults.
func LoadCompetitionRules(path string) (CompetitionRules, error) {
	r := DefaultCompetitionRules()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		telemetry.Plainf("  Rules: %s not found, using defaults", path)
		return r, nil
	}
	if err != nil {
		return CompetitionRules{}, fmt.Errorf("read competition rules: %w", err)
	}

	var loaded CompetitionRules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return CompetitionRules{}, fmt.Errorf("parse competition rules: %w", err)
	}

	if loaded.Name != "" {
		r.Name = loaded.Name
	}
	for st, pr := range loaded.Periods {
		if !st.Live() {
			return CompetitionRules{}, fmt.Errorf("parse competition rules: %s is not a live period", st)
		}
		r.Periods[st] = pr
	}
	if loaded.Substitutions != (SubstitutionRules{}) {
		r.Substitutions = loaded.Substitutions
	}

	telemetry.Plainf("  Rules: %s (%d periods)", r.Name, len(r.Periods))
	return r, nil
}

func (r CompetitionRules) PeriodLimits() period.Limits {
	l := period.Limits{
		MinWallSeconds:      make(map[period.Status]float64, len(r.Periods)),
		MinEffectiveSeconds: make(map[period.Status]float64, len(r.Periods)),
		PeriodStartSeconds:  make(map[period.Status]float64, len(r.Periods)),
	}
	for st, pr := range r.Periods {
		l.MinWallSeconds[st] = pr.MinWallSeconds
		if pr.MinEffectiveSeconds > 0 {
			l.MinEffectiveSeconds[st] = pr.MinEffectiveSeconds
		}
		l.PeriodStartSeconds[st] = pr.StartSeconds
	}
	return l
}

func (r CompetitionRules) SubstitutionLimits() rules.SubstitutionLimits {
	return rules.SubstitutionLimits{
		MaxSubstitutions:       r.Substitutions.MaxSubstitutions,
		MaxWindows:             r.Substitutions.MaxWindows,
		ExtraTimeSubstitutions: r.Substitutions.ExtraTimeSubstitutions,
		ExtraTimeWindows:       r.Substitutions.ExtraTimeWindows,
	}
}
