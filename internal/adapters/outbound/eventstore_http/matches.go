package eventstore_http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/core/rules"
	"github.com/charleschow/matchsync/internal/core/session"
	"github.com/charleschow/matchsync/internal/core/state/period"
	"github.com/charleschow/matchsync/internal/telemetry"
)

func matchPath(matchID string) string { return "/matches/" + url.PathEscape(matchID) }

func (c *Client) GetMatch(ctx context.Context, matchID string) (session.MatchInfo, error) {
	var info session.MatchInfo
	if err := c.getJSON(ctx, matchPath(matchID), &info); err != nil {
		return session.MatchInfo{}, fmt.Errorf("get match %s: %w", matchID, err)
	}
	if info.MatchID == "" {
		info.MatchID = matchID
	}
	return info, nil
}

// ListEvents fetches one page of the persisted log. Concurrent requests
// for the same page share one round trip, which keeps a reconnect
// backfill from racing a session reload.
func (c *Client) ListEvents(ctx context.Context, matchID string, page, pageSize int) (session.EventPage, error) {
	path := fmt.Sprintf("%s/events?page=%d&page_size=%d", matchPath(matchID), page, pageSize)
	v, shared, err := c.shared(ctx, "list:"+path, func(ctx context.Context) (any, error) {
		var p session.EventPage
		if err := c.getJSON(ctx, path, &p); err != nil {
			return session.EventPage{}, err
		}
		return p, nil
	})
	if err != nil {
		return session.EventPage{}, fmt.Errorf("list events %s page %d: %w", matchID, page, err)
	}
	if shared {
		telemetry.Debugf("eventstore_http: shared list of %s page %d", matchID, page)
	}
	return v.(session.EventPage), nil
}

type statusPatch struct {
	Status period.Status `json:"status"`
}

func (c *Client) PatchMatchStatus(ctx context.Context, matchID string, status period.Status) error {
	err := c.send(ctx, http.MethodPatch, matchPath(matchID)+"/status", statusPatch{Status: status}, nil)
	if err != nil {
		var te *match.TransitionError
		if errors.As(err, &te) && te.To == "" {
			te.To = string(status)
		}
		return fmt.Errorf("patch status %s -> %s: %w", matchID, status, err)
	}
	return nil
}

func (c *Client) PatchClockMode(ctx context.Context, matchID string, patch period.ClockPatch) error {
	if err := c.send(ctx, http.MethodPatch, matchPath(matchID)+"/clock-mode", patch, nil); err != nil {
		return fmt.Errorf("patch clock mode %s: %w", matchID, err)
	}
	return nil
}

// DeleteEvent removes a persisted event. A 404 counts as already deleted.
func (c *Client) DeleteEvent(ctx context.Context, matchID, serverEventID string) error {
	path := matchPath(matchID) + "/events/" + url.PathEscape(serverEventID)
	err := c.send(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete event %s/%s: %w", matchID, serverEventID, err)
	}
	return nil
}

// ValidateSubstitution asks the rule service whether a substitution is
// legal. Identical in-flight requests are coalesced, and a caller giving up
// does not cancel the request for the others.
func (c *Client) ValidateSubstitution(ctx context.Context, req rules.SubstitutionRequest) (rules.SubstitutionVerdict, error) {
	key := fmt.Sprintf("sub:%s:%s:%s:%s:%t", req.MatchID, req.TeamID, req.PlayerOff, req.PlayerOn, req.IsConcussion)
	v, _, err := c.shared(ctx, key, func(ctx context.Context) (any, error) {
		var verdict rules.SubstitutionVerdict
		path := matchPath(req.MatchID) + "/substitutions/validate"
		if err := c.send(ctx, http.MethodPost, path, req, &verdict); err != nil {
			return rules.SubstitutionVerdict{}, err
		}
		return verdict, nil
	})
	if err != nil {
		return rules.SubstitutionVerdict{}, fmt.Errorf("validate substitution: %w", err)
	}
	return v.(rules.SubstitutionVerdict), nil
}
