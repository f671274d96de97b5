package eventstore_http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/charleschow/matchsync/internal/core/match"
	"github.com/charleschow/matchsync/internal/telemetry"
)

// Client is the request/response side of the event store and the remote
// substitution rule service. It satisfies session.EventStore and
// rules.SubstitutionValidator.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
	sf           singleflight.Group
}

// NewClient builds a client allowing rps reads and rps/2 writes per second.
func NewClient(baseURL, token string, rps int) *Client {
	if rps <= 0 {
		rps = 20
	}
	writes := rps / 2
	if writes < 1 {
		writes = 1
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		readLimiter:  rate.NewLimiter(rate.Limit(rps), rps),
		writeLimiter: rate.NewLimiter(rate.Limit(writes), writes),
	}
}

// apiError is the store's error body.
type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// StatusError is a non-2xx answer that maps to no domain error.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s -> %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	lim := c.readLimiter
	if method != http.MethodGet {
		lim = c.writeLimiter
	}
	waitStart := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limit wait: %w", err)
	}
	telemetry.Metrics.RateLimiterWait.Record(time.Since(waitStart))

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %s %s: %v", match.ErrTransientSendFailure, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %v", match.ErrTransientSendFailure, err)
	}

	elapsed := time.Since(start)
	telemetry.Metrics.StoreLatency.Record(elapsed)
	telemetry.Debugf("eventstore_http: %s %s -> %d (%s)", method, path, resp.StatusCode, elapsed)

	return respBody, resp.StatusCode, nil
}

// check maps a non-2xx status onto the domain error model.
func check(method, path string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var ae apiError
	_ = json.Unmarshal(body, &ae)

	switch {
	case status >= 500:
		return fmt.Errorf("%w: %s %s -> %d", match.ErrTransientSendFailure, method, path, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s %s throttled", match.ErrTransientSendFailure, method, path)
	case ae.Code == "TransitionNotAllowed":
		return &match.TransitionError{Reason: ae.Message}
	case ae.Code == "ValidationError" || status == http.StatusUnprocessableEntity:
		return &match.ValidationError{Field: "request", Msg: ae.Message}
	}
	return &StatusError{Method: method, Path: path, Status: status, Body: string(body)}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := check(http.MethodGet, path, status, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	body, status, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if err := check(method, path, status, body); err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// shared runs fn once for every concurrent caller with the same key. The
// flight runs detached from any one caller's cancellation, bounded by the
// client timeout; each caller still stops waiting when its own ctx ends.
func (c *Client) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	ch := c.sf.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.httpClient.Timeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// IsNotFound reports whether err is a 404 from the store.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
