package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sse "github.com/r3labs/sse/v2"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// Stream event names pushed by the backend.
const (
	eventConnected = "connected"
	eventUpdate    = "update"
	eventHeartbeat = "heartbeat"
)

// Streamer is the server-sent-events update channel. Update events carry
// the full snapshot in their payload and are delivered verbatim; the REST
// read path is the fallback for the initial handshake and for events whose
// payload carries no data.
//
// Reconnection is owned here, not by the SSE library: each subscribe is a
// single attempt, and consecutive failures walk the ReconnectPolicy until
// it is exhausted, at which point the channel is terminally failed.
type Streamer struct {
	url     string
	cookie  string
	fetcher Fetcher
	policy  *ReconnectPolicy
	events  Events

	mu       sync.Mutex
	lastSeen int64
}

func NewStreamer(url, cookie string, fetcher Fetcher, policy *ReconnectPolicy, events Events) *Streamer {
	if policy == nil {
		policy = DefaultReconnectPolicy()
	}
	return &Streamer{
		url:     url,
		cookie:  cookie,
		fetcher: fetcher,
		policy:  policy,
		events:  events,
	}
}

// ErrStreamFailed is returned when reconnect attempts are exhausted.
var ErrStreamFailed = fmt.Errorf("stream reconnect attempts exhausted")

// Run subscribes and dispatches until ctx is cancelled or the reconnect
// budget is spent. A received event on a connection resets the budget.
func (s *Streamer) Run(ctx context.Context) error {
	attempt := 0
	for {
		var gotEvent atomic.Bool
		var announced atomic.Bool

		client := sse.NewClient(s.url)
		client.ReconnectStrategy = &backoff.StopBackOff{}
		if s.cookie != "" {
			client.Headers["Cookie"] = s.cookie
		}

		err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			s.handle(ctx, msg, &announced)
			gotEvent.Store(true)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if gotEvent.Load() {
			attempt = 0
		}
		attempt++
		if s.policy.Exhausted(attempt) {
			slog.Error("stream failed", "attempts", attempt-1, "error", err)
			s.events.connectivity(StateFailed, ErrStreamFailed)
			return ErrStreamFailed
		}

		delay := s.policy.NextDelay(attempt)
		slog.Warn("stream dropped, reconnecting", "attempt", attempt, "delay", delay, "error", err)
		s.events.connectivity(StateReconnecting, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// handle dispatches one stream event. An update arriving before the
// connected handshake is honored anyway; the handshake ordering is a server
// courtesy, not a protocol requirement.
func (s *Streamer) handle(ctx context.Context, msg *sse.Event, announced *atomic.Bool) {
	name := string(msg.Event)
	switch name {
	case eventHeartbeat:
		// Keepalive only.
	case eventConnected:
		if announced.CompareAndSwap(false, true) {
			s.events.connectivity(StateConnected, nil)
		}
		s.fetch(ctx)
	case eventUpdate:
		if announced.CompareAndSwap(false, true) {
			s.events.connectivity(StateConnected, nil)
		}
		if snap, ok := decodeSnapshot(msg.Data); ok {
			s.deliver(snap)
			return
		}
		s.fetch(ctx)
	default:
		slog.Debug("ignoring unknown stream event", "event", name)
	}
}

// decodeSnapshot parses an update payload. Events with an empty or
// contentless body report false so the caller falls back to a fetch.
func decodeSnapshot(data []byte) (*types.Snapshot, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("undecodable update payload, falling back to fetch", "error", err)
		return nil, false
	}
	if snap.Version == 0 && len(snap.Sessions) == 0 && len(snap.GroupedSessions) == 0 {
		return nil, false
	}
	return &snap, true
}

// deliver hands a payload-borne snapshot to the consumer.
func (s *Streamer) deliver(snap *types.Snapshot) {
	s.mu.Lock()
	if snap.Version > s.lastSeen {
		s.lastSeen = snap.Version
	}
	s.mu.Unlock()
	s.events.snapshot(snap)
}

func (s *Streamer) fetch(ctx context.Context) {
	s.mu.Lock()
	lastSeen := s.lastSeen
	s.mu.Unlock()

	snap, fetched, err := s.fetcher.FetchIfStale(ctx, lastSeen)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("stream-triggered fetch failed", "error", err)
		}
		return
	}
	if !fetched {
		return
	}

	s.mu.Lock()
	s.lastSeen = snap.Version
	s.mu.Unlock()
	s.events.snapshot(snap)
}
