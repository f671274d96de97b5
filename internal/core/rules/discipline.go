package rules

import "github.com/charleschow/matchsync/internal/core/match"

// PlayerStatus is the derived disciplinary state of one player.
type PlayerStatus struct {
	PlayerID    string `json:"player_id"`
	TeamID      string `json:"team_id"`
	YellowCount int    `json:"yellow_count"`
	RedCount    int    `json:"red_count"` // direct plus second-yellow reds
	IsExpelled  bool   `json:"is_expelled"`
}

// SyntheticCard is a card the engine derives rather than one anybody logged:
// the second-yellow marker and the red that follows it.
type SyntheticCard struct {
	CausedBy   string         `json:"caused_by"` // idempotency key of the triggering yellow
	PlayerID   string         `json:"player_id"`
	TeamID     string         `json:"team_id"`
	Period     int            `json:"period"`
	MatchClock match.Clock    `json:"match_clock"`
	CardType   match.CardType `json:"card_type"`
}

// Discipline is the result of replaying a card sub-log.
type Discipline struct {
	Players   map[string]*PlayerStatus `json:"players"`
	Synthetic []SyntheticCard          `json:"synthetic"`
}

func (d Discipline) Expelled(playerID string) bool {
	ps, ok := d.Players[playerID]
	return ok && ps.IsExpelled
}

// TeamCards sums yellow and red counts for a team, net of cancellations.
func (d Discipline) TeamCards(teamID string) (yellow, red int) {
	for _, ps := range d.Players {
		if ps.TeamID == teamID {
			yellow += ps.YellowCount
			red += ps.RedCount
		}
	}
	return
}

// DeriveDiscipline replays Card events in log order. Cancellations first
// remove the card they net out; the surviving cards are then replayed so a
// second yellow always yields exactly one synthetic red. It is a pure
// function of the log.
func DeriveDiscipline(events []match.MatchEvent) Discipline {
	players := make(map[string]*PlayerStatus)
	live := make(map[string][]match.MatchEvent)
	var order []string

	for _, ev := range events {
		if ev.Type != match.EventCard || ev.PlayerID == "" {
			continue
		}
		if _, ok := players[ev.PlayerID]; !ok {
			players[ev.PlayerID] = &PlayerStatus{PlayerID: ev.PlayerID, TeamID: ev.TeamID}
			order = append(order, ev.PlayerID)
		}
		cards := live[ev.PlayerID]
		if ev.Data.CardType == match.CardCancelled {
			if idx := cancelTarget(cards, ev.Data.Cancels); idx >= 0 {
				live[ev.PlayerID] = append(cards[:idx:idx], cards[idx+1:]...)
			}
			continue
		}
		live[ev.PlayerID] = append(cards, ev)
	}

	var synth []SyntheticCard
	for _, pid := range order {
		ps := players[pid]
		for _, card := range live[pid] {
			switch card.Data.CardType {
			case match.CardYellow, match.CardSecondYellow:
				ps.YellowCount++
				if ps.YellowCount == 2 {
					if card.Data.CardType == match.CardYellow {
						synth = append(synth, synthetic(card, match.CardSecondYellow))
					}
					synth = append(synth, synthetic(card, match.CardRed))
					ps.RedCount++
				}
			case match.CardRed:
				ps.RedCount++
			}
		}
		ps.IsExpelled = ps.RedCount > 0 || ps.YellowCount >= 2
	}

	return Discipline{Players: players, Synthetic: synth}
}

// cancelTarget picks the card a cancellation nets out: the referenced card
// when one is named, otherwise the most recent live card. A reference to a
// card that is no longer live cancels nothing.
func cancelTarget(cards []match.MatchEvent, ref string) int {
	if ref == "" {
		return len(cards) - 1
	}
	for i, c := range cards {
		if c.IdempotencyKey == ref {
			return i
		}
	}
	return -1
}

func synthetic(ev match.MatchEvent, ct match.CardType) SyntheticCard {
	return SyntheticCard{
		CausedBy:   ev.IdempotencyKey,
		PlayerID:   ev.PlayerID,
		TeamID:     ev.TeamID,
		Period:     ev.Period,
		MatchClock: ev.MatchClock,
		CardType:   ct,
	}
}
