package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// backgroundMultiplier stretches the poll interval while no viewer is
// foregrounded.
const backgroundMultiplier = 3

// Fetcher is the snapshot read path the poller drives.
type Fetcher interface {
	FetchIfStale(ctx context.Context, lastSeen int64) (*types.Snapshot, bool, error)
}

// Poller is the polling update channel. A single timer owns the cadence;
// foreground/background transitions and explicit kicks re-arm it rather
// than spawning additional timers, so overlapping fetch loops cannot occur.
type Poller struct {
	fetcher  Fetcher
	events   Events
	interval time.Duration

	mu         sync.Mutex
	foreground bool
	lastSeen   int64
	degraded   bool

	kick chan struct{}
}

func NewPoller(fetcher Fetcher, interval time.Duration, events Events) *Poller {
	return &Poller{
		fetcher:    fetcher,
		events:     events,
		interval:   interval,
		foreground: true,
		kick:       make(chan struct{}, 1),
	}
}

// SetForeground switches between the base cadence and the stretched
// background cadence. Returning to the foreground triggers an immediate
// fetch so the viewer never waits out a background interval.
func (p *Poller) SetForeground(fg bool) {
	p.mu.Lock()
	was := p.foreground
	p.foreground = fg
	p.mu.Unlock()

	if fg && !was {
		p.Kick()
	}
}

// Kick requests an immediate fetch and re-arms the timer. Coalesces if a
// kick is already pending.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) currentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.foreground {
		return p.interval
	}
	return p.interval * backgroundMultiplier
}

// Run polls until ctx is cancelled. The first fetch happens immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.events.connectivity(StatePolling, nil)
	p.fetch(ctx)

	timer := time.NewTimer(p.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		p.fetch(ctx)
		timer.Reset(p.currentInterval())
	}
}

func (p *Poller) fetch(ctx context.Context) {
	p.mu.Lock()
	lastSeen := p.lastSeen
	p.mu.Unlock()

	snap, fetched, err := p.fetcher.FetchIfStale(ctx, lastSeen)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("poll fetch failed", "error", err)
		p.mu.Lock()
		p.degraded = true
		p.mu.Unlock()
		p.events.connectivity(StatePolling, err)
		return
	}

	p.mu.Lock()
	recovered := p.degraded
	p.degraded = false
	if fetched {
		p.lastSeen = snap.Version
	}
	p.mu.Unlock()

	if recovered {
		p.events.connectivity(StatePolling, nil)
	}
	if fetched {
		p.events.snapshot(snap)
	}
}
