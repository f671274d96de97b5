package match

import "fmt"

// ValidateEvent checks structural legality of a draft event. It returns the
// first violation as a *ValidationError, or nil.
func ValidateEvent(ev MatchEvent) error {
	if ev.MatchID == "" {
		return &ValidationError{Field: "match_id", Msg: "required"}
	}
	if !ev.Type.Valid() {
		return &ValidationError{Field: "type", Msg: fmt.Sprintf("unknown event type %q", ev.Type)}
	}
	if ev.Period < 1 {
		return &ValidationError{Field: "period", Msg: "must be >= 1"}
	}
	if ev.MatchClock < 0 {
		return &ValidationError{Field: "match_clock", Msg: "must not be negative"}
	}
	if ev.TeamID == "" && !ev.Type.Neutral() {
		return &ValidationError{Field: "team_id", Msg: "required"}
	}
	if ev.PlayerID == "" && ev.Type.PlayerAction() {
		return &ValidationError{Field: "player_id", Msg: "required"}
	}

	d := ev.Data
	switch ev.Type {
	case EventCard:
		switch d.CardType {
		case CardYellow, CardSecondYellow, CardRed, CardCancelled:
		default:
			return &ValidationError{Field: "data.card_type", Msg: fmt.Sprintf("invalid card type %q", d.CardType)}
		}
	case EventGameStoppage:
		switch d.StoppageType {
		case StoppageClockStop, StoppageClockStart, StoppageVARStart, StoppageVARStop:
		default:
			return &ValidationError{Field: "data.stoppage_type", Msg: fmt.Sprintf("invalid stoppage type %q", d.StoppageType)}
		}
	case EventSubstitution:
		if d.PlayerOn == "" {
			return &ValidationError{Field: "data.player_on", Msg: "required"}
		}
		if d.PlayerOn == ev.PlayerID {
			return &ValidationError{Field: "data.player_on", Msg: "must differ from the player going off"}
		}
	case EventSetPiece:
		if d.SetPieceType == "" {
			return &ValidationError{Field: "data.set_piece_type", Msg: "required"}
		}
	}
	return nil
}
