package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// fakeFetcher hands out snapshots with increasing versions and can be
// toggled to fail.
type fakeFetcher struct {
	mu      sync.Mutex
	version int64
	calls   atomic.Int64
	fail    atomic.Bool
}

func (f *fakeFetcher) bump() {
	f.mu.Lock()
	f.version++
	f.mu.Unlock()
}

func (f *fakeFetcher) FetchIfStale(ctx context.Context, lastSeen int64) (*types.Snapshot, bool, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, false, errors.New("connection refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if lastSeen != 0 && f.version <= lastSeen {
		return nil, false, nil
	}
	return &types.Snapshot{Version: f.version}, true, nil
}

func collectSnapshots(ch chan *types.Snapshot) Events {
	return Events{
		OnSnapshot: func(snap *types.Snapshot) { ch <- snap },
	}
}

func TestPoller_FetchesImmediatelyAndOnInterval(t *testing.T) {
	f := &fakeFetcher{version: 1}
	snaps := make(chan *types.Snapshot, 16)
	p := NewPoller(f, 20*time.Millisecond, collectSnapshots(snaps))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case snap := <-snaps:
		if snap.Version != 1 {
			t.Errorf("expected version 1, got %d", snap.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("no immediate fetch")
	}

	f.bump()
	select {
	case snap := <-snaps:
		if snap.Version != 2 {
			t.Errorf("expected version 2, got %d", snap.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("no interval fetch")
	}
}

func TestPoller_SkipsUnchangedVersions(t *testing.T) {
	f := &fakeFetcher{version: 1}
	snaps := make(chan *types.Snapshot, 16)
	p := NewPoller(f, 10*time.Millisecond, collectSnapshots(snaps))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	<-snaps
	time.Sleep(60 * time.Millisecond)
	if len(snaps) != 0 {
		t.Errorf("unchanged backend must not emit snapshots, got %d", len(snaps))
	}
	if f.calls.Load() < 3 {
		t.Errorf("poller should keep probing, only %d calls", f.calls.Load())
	}
}

func TestPoller_KickFetchesImmediately(t *testing.T) {
	f := &fakeFetcher{version: 1}
	snaps := make(chan *types.Snapshot, 16)
	p := NewPoller(f, time.Hour, collectSnapshots(snaps))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	<-snaps
	f.bump()
	p.Kick()

	select {
	case snap := <-snaps:
		if snap.Version != 2 {
			t.Errorf("expected version 2, got %d", snap.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("kick did not trigger a fetch")
	}
}

func TestPoller_ForegroundReturnTriggersFetch(t *testing.T) {
	f := &fakeFetcher{version: 1}
	snaps := make(chan *types.Snapshot, 16)
	p := NewPoller(f, time.Hour, collectSnapshots(snaps))
	p.SetForeground(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	<-snaps
	f.bump()
	p.SetForeground(true)

	select {
	case snap := <-snaps:
		if snap.Version != 2 {
			t.Errorf("expected version 2, got %d", snap.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("foreground return did not trigger a fetch")
	}
}

func TestPoller_BackgroundStretchesInterval(t *testing.T) {
	p := NewPoller(&fakeFetcher{}, 10*time.Millisecond, Events{})
	if got := p.currentInterval(); got != 10*time.Millisecond {
		t.Errorf("foreground interval = %v", got)
	}
	p.SetForeground(false)
	if got := p.currentInterval(); got != 30*time.Millisecond {
		t.Errorf("background interval = %v", got)
	}
}

func TestPoller_ErrorsReportedAndRecovered(t *testing.T) {
	f := &fakeFetcher{version: 1}
	f.fail.Store(true)

	type transition struct {
		state State
		err   error
	}
	transitions := make(chan transition, 16)
	p := NewPoller(f, 10*time.Millisecond, Events{
		OnConnectivity: func(s State, err error) { transitions <- transition{s, err} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// Initial polling announcement, then the failure.
	if tr := <-transitions; tr.state != StatePolling || tr.err != nil {
		t.Fatalf("expected clean polling start, got %v/%v", tr.state, tr.err)
	}
	if tr := <-transitions; tr.state != StatePolling || tr.err == nil {
		t.Fatalf("expected polling error transition, got %v/%v", tr.state, tr.err)
	}

	f.fail.Store(false)
	deadline := time.After(time.Second)
	for {
		select {
		case tr := <-transitions:
			if tr.err == nil {
				return // recovered
			}
		case <-deadline:
			t.Fatal("no recovery transition")
		}
	}
}
