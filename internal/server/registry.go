package server

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	idleTimeout   = 60 * time.Second
	sweepInterval = 30 * time.Second
)

// conn is one attached push consumer.
type conn struct {
	id       string
	send     chan []byte
	lastSeen time.Time
}

// Registry tracks attached websocket consumers so pushes fan out to live
// connections only. Connections that stop answering pings are swept after
// the idle timeout.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*conn
	now   func() time.Time
	cron  *cron.Cron
}

type RegistryOption func(*Registry)

// WithClock injects the time source (used in tests).
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns: make(map[string]*conn),
		now:   time.Now,
		cron:  cron.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start schedules the idle sweep.
func (r *Registry) Start() error {
	spec := fmt.Sprintf("@every %s", sweepInterval)
	if _, err := r.cron.AddFunc(spec, func() { r.Sweep() }); err != nil {
		return fmt.Errorf("schedule connection sweep: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the sweep and closes every connection's send channel.
func (r *Registry) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		close(c.send)
		delete(r.conns, id)
	}
}

// Add registers a consumer and returns its outbound channel.
func (r *Registry) Add(id string) <-chan []byte {
	c := &conn{
		id:       id,
		send:     make(chan []byte, 8),
		lastSeen: r.now(),
	}
	r.mu.Lock()
	r.conns[id] = c
	r.mu.Unlock()
	slog.Debug("consumer attached", "conn_id", id, "total", r.Len())
	return c.send
}

// Remove detaches a consumer and closes its channel.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if ok {
		close(c.send)
		slog.Debug("consumer detached", "conn_id", id, "total", r.Len())
	}
}

// Touch refreshes a consumer's liveness marker (called on pong).
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.lastSeen = r.now()
	}
}

// Len returns the number of attached consumers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast queues payload to every attached consumer. Consumers whose
// buffers are full drop the frame; they recover on their next read since
// every frame carries the full view.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		select {
		case c.send <- payload:
		default:
			slog.Debug("consumer buffer full, frame dropped", "conn_id", c.id)
		}
	}
}

// Sweep drops consumers idle past the timeout and returns how many were
// removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-idleTimeout)

	r.mu.Lock()
	var stale []*conn
	for id, c := range r.conns {
		if c.lastSeen.Before(cutoff) {
			stale = append(stale, c)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		close(c.send)
		slog.Debug("idle consumer swept", "conn_id", c.id)
	}
	return len(stale)
}
