// Package backend is the HTTP client for the modmail backend of record.
// It exposes the snapshot read path (version probe + full fetch) and the
// mutating calls the dispatcher issues. It never retries on its own; retry
// cadence belongs to the update channel.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// APIError is a non-2xx response to a request. Mutating calls surface it to
// the dispatcher, which reverses the optimistic entry that triggered them.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// Client talks to the backend over its REST contract. Auth is an out-of-band
// cookie attached to every request.
type Client struct {
	baseURL string
	cookie  string
	http    *http.Client
	group   singleflight.Group
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, cookie string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		cookie:  cookie,
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EventsURL returns the streaming endpoint for the SSE channel adapter.
func (c *Client) EventsURL() string {
	return c.baseURL + "/api/events"
}

// Cookie returns the auth cookie value for out-of-band use (SSE headers).
func (c *Client) Cookie() string {
	return c.cookie
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

// Version is the cheap staleness probe: the backend's current update marker.
func (c *Client) Version(ctx context.Context) (int64, error) {
	var payload struct {
		Version int64 `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Version, nil
}

// Snapshot fetches sessions, grouped sessions, and stats in parallel.
func (c *Client) Snapshot(ctx context.Context) (*types.Snapshot, error) {
	snap := &types.Snapshot{}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.do(ctx, http.MethodGet, "/api/sessions?includeAll=true", nil, &snap.Sessions)
	})
	g.Go(func() error {
		return c.do(ctx, http.MethodGet, "/api/sessions/grouped?includeAll=true", nil, &snap.GroupedSessions)
	})
	g.Go(func() error {
		return c.do(ctx, http.MethodGet, "/api/stats", nil, &snap.Stats)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// FetchIfStale probes the backend version and pays for a full snapshot only
// when the probe reports something newer than lastSeen. The first call
// (lastSeen == 0) always fetches regardless of the probe. Returns the
// snapshot and true when fresh data was fetched, or nil and false when the
// backend is unchanged. Errors never advance the caller's version marker.
// Concurrent callers with the same marker coalesce onto a single in-flight
// fetch; callers with different markers must not share a result, since a
// first-time caller needs a snapshot a probe-skip call never produces.
func (c *Client) FetchIfStale(ctx context.Context, lastSeen int64) (*types.Snapshot, bool, error) {
	type result struct {
		snap    *types.Snapshot
		fetched bool
	}

	key := fmt.Sprintf("snapshot:%d", lastSeen)
	v, err, _ := c.group.Do(key, func() (any, error) {
		version, probeErr := c.Version(ctx)
		if lastSeen != 0 {
			if probeErr != nil {
				return nil, probeErr
			}
			if version <= lastSeen {
				return result{nil, false}, nil
			}
		}

		snap, err := c.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if probeErr == nil {
			snap.Version = version
		}
		return result{snap, true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(result)
	return r.snap, r.fetched, nil
}

// CreateMessageData is the POST /api/messages request body.
type CreateMessageData struct {
	Content     string          `json:"content"`
	AuthorID    string          `json:"authorId"`
	AuthorName  string          `json:"authorName,omitempty"`
	SessionID   types.SessionID `json:"sessionId"`
	IsAnonymous bool            `json:"isAnonymous,omitempty"`
}

// CreateMessage persists a message; the server assigns the real identity.
func (c *Client) CreateMessage(ctx context.Context, data CreateMessageData) (*types.Message, error) {
	var msg types.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SessionUpdate is the PATCH /api/sessions/:id request body.
type SessionUpdate struct {
	Status            string `json:"status,omitempty"`
	AssignedModerator string `json:"assignedModerator,omitempty"`
}

func (c *Client) UpdateSession(ctx context.Context, id types.SessionID, update SessionUpdate) (*types.Session, error) {
	var session types.Session
	path := fmt.Sprintf("/api/sessions/%s", id)
	if err := c.do(ctx, http.MethodPatch, path, update, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) PinSession(ctx context.Context, id types.SessionID, pin bool) error {
	path := fmt.Sprintf("/api/sessions/%s/pin", id)
	body := map[string]bool{"pin": pin}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) ClaimSession(ctx context.Context, id types.SessionID, moderatorID string) error {
	path := fmt.Sprintf("/api/sessions/%s/claim", id)
	body := map[string]string{"moderatorId": moderatorID}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) RateSatisfaction(ctx context.Context, id types.SessionID, rating string) error {
	path := fmt.Sprintf("/api/sessions/%s/satisfaction", id)
	body := map[string]string{"satisfactionRating": rating}
	return c.do(ctx, http.MethodPost, path, body, nil)
}
