package roster

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/telemetry"
)

type Player struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Number int    `yaml:"number"`
}

type Team struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Players []Player `yaml:"players"`
}

type MatchRoster struct {
	Home Team `yaml:"home"`
	Away Team `yaml:"away"`
}

type file struct {
	Matches map[string]MatchRoster `yaml:"matches"`
}

// FileProvider serves match-day lineups from a YAML file. It satisfies
// rules.RosterProvider.
type FileProvider struct {
	path string

	mu      sync.RWMutex
	matches map[string]MatchRoster
	// match id -> team id -> normalized name -> player id
	byName map[string]map[string]map[string]string
}

func LoadFile(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the file. The previous rosters stay in place on error.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse roster: %w", err)
	}

	byName := make(map[string]map[string]map[string]string, len(f.Matches))
	for id, mr := range f.Matches {
		if mr.Home.ID == "" || mr.Away.ID == "" {
			return fmt.Errorf("parse roster: match %s needs home and away team ids", id)
		}
		teams := make(map[string]map[string]string, 2)
		for _, t := range []Team{mr.Home, mr.Away} {
			names := make(map[string]string, len(t.Players))
			for _, pl := range t.Players {
				if n := Normalize(pl.Name); n != "" {
					names[n] = pl.ID
				}
			}
			teams[t.ID] = names
		}
		byName[id] = teams
	}

	p.mu.Lock()
	p.matches = f.Matches
	p.byName = byName
	p.mu.Unlock()

	telemetry.Plainf("  Roster: %d matches from %s", len(f.Matches), p.path)
	return nil
}

func (p *FileProvider) Lineup(_ context.Context, matchID string) (rules.Lineup, error) {
	p.mu.RLock()
	mr, ok := p.matches[matchID]
	p.mu.RUnlock()
	if !ok {
		return rules.Lineup{}, fmt.Errorf("roster: no lineup for match %s", matchID)
	}

	lineup := rules.Lineup{
		HomeTeamID: mr.Home.ID,
		AwayTeamID: mr.Away.ID,
		Players:    make(map[string][]string, 2),
	}
	for _, t := range []Team{mr.Home, mr.Away} {
		ids := make([]string, 0, len(t.Players))
		for _, pl := range t.Players {
			ids = append(ids, pl.ID)
		}
		lineup.Players[t.ID] = ids
	}
	return lineup, nil
}

// Resolve finds a player of teamID by id, shirt number ("#9" or "9") or
// name, ignoring case and diacritics.
func (p *FileProvider) Resolve(matchID, teamID, ref string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mr, ok := p.matches[matchID]
	if !ok {
		return "", false
	}
	var team *Team
	switch teamID {
	case mr.Home.ID:
		team = &mr.Home
	case mr.Away.ID:
		team = &mr.Away
	default:
		return "", false
	}

	for _, pl := range team.Players {
		if pl.ID == ref {
			return pl.ID, true
		}
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil {
		for _, pl := range team.Players {
			if pl.Number == n {
				return pl.ID, true
			}
		}
	}
	id, ok := p.byName[matchID][teamID][Normalize(ref)]
	return id, ok
}
