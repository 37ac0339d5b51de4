// Package engine owns the authoritative replica and wires the update
// channel, the optimistic ledger, and the view projector together behind a
// single mutex. Consumers read copies; nothing hands out internal state.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WylieDituri/modmail-sync/internal/channel"
	"github.com/WylieDituri/modmail-sync/internal/dispatcher"
	"github.com/WylieDituri/modmail-sync/internal/ledger"
	"github.com/WylieDituri/modmail-sync/internal/projector"
	"github.com/WylieDituri/modmail-sync/internal/types"
)

// View is a self-contained copy of the reconciled state for rendering.
type View struct {
	Sessions        []types.Session          `json:"sessions"`
	Grouped         []types.GroupedSessions  `json:"groupedSessions"`
	Stats           types.ModeratorStats     `json:"stats"`
	Connectivity    channel.State            `json:"connectivity"`
	ConnectivityErr string                   `json:"connectivityError,omitempty"`
	LastUpdated     time.Time                `json:"lastUpdated"`
	SelectedSession types.SessionID          `json:"selectedSession,omitempty"`
	Query           string                   `json:"query,omitempty"`
	ShowClosed      bool                     `json:"showClosed"`
	PendingActions  int                      `json:"pendingActions"`
}

type Engine struct {
	mu           sync.Mutex
	snapshot     types.Snapshot
	applied      int64
	snapGen      uint64
	lastUpdated  time.Time
	connectivity channel.State
	connErr      error
	filter       projector.Filter
	selected     types.SessionID
	seen         projector.SeenMessages
	seenGen      uint64

	ledger     *ledger.Ledger
	dispatcher *dispatcher.Dispatcher
	drafts     *dispatcher.DraftStore
	proj       projector.Projector
	debouncer  *projector.Debouncer

	refetch    func()
	foreground func(bool)
	now        func() time.Time

	changes chan struct{}
}

type Option func(*Engine)

// WithClock injects the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRefetch sets the callback RefetchNow uses to poke the active channel.
func WithRefetch(fn func()) Option {
	return func(e *Engine) { e.refetch = fn }
}

// WithForeground sets the callback SetForeground forwards to.
func WithForeground(fn func(bool)) Option {
	return func(e *Engine) { e.foreground = fn }
}

// WithDebounceDelay overrides the search debounce window (used in tests).
func WithDebounceDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.debouncer = projector.NewDebouncer(d, e.commitQuery)
	}
}

func New(l *ledger.Ledger, d *dispatcher.Dispatcher, drafts *dispatcher.DraftStore, opts ...Option) *Engine {
	e := &Engine{
		ledger:       l,
		dispatcher:   d,
		drafts:       drafts,
		seen:         make(projector.SeenMessages),
		connectivity: channel.StatePolling,
		now:          time.Now,
		changes:      make(chan struct{}, 1),
	}
	e.debouncer = projector.NewDebouncer(projector.DebounceDelay, e.commitQuery)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close stops the engine's timers. The engine itself holds no goroutines.
func (e *Engine) Close() {
	e.debouncer.Stop()
}

// Changes delivers a signal after every state change. The channel is
// buffered and coalescing; consumers read the current View on each signal.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// ApplySnapshot installs a fresh authoritative snapshot. Snapshots tagged
// older than the applied one are discarded; equal or untagged snapshots
// apply, so channels without version markers still work. A fresh snapshot
// immediately retires confirmed ledger entries rather than waiting for the
// next sweep.
func (e *Engine) ApplySnapshot(snap *types.Snapshot) {
	e.mu.Lock()
	if snap.Version != 0 && snap.Version < e.applied {
		e.mu.Unlock()
		slog.Debug("discarding stale snapshot", "version", snap.Version, "applied", e.applied)
		return
	}
	e.snapshot = snap.Clone()
	if snap.Version > e.applied {
		e.applied = snap.Version
	}
	// Equal-version and untagged snapshots can carry new content, so every
	// accepted apply advances the generation the projection is keyed on.
	e.snapGen++
	e.lastUpdated = e.now()
	e.mu.Unlock()

	e.ledger.Retire(snap.Sessions)
	e.ledger.Expire()
	e.notify()
}

// SetConnectivity records a channel state transition.
func (e *Engine) SetConnectivity(state channel.State, err error) {
	e.mu.Lock()
	e.connectivity = state
	e.connErr = err
	e.mu.Unlock()
	e.notify()
}

// AuthoritativeSessions returns the raw (unreconciled) sessions of the
// applied snapshot, for the ledger sweeper.
func (e *Engine) AuthoritativeSessions() []types.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.CloneSessions(e.snapshot.Sessions)
}

// View projects the current reconciled state. Projection is memoized on
// (snapshot generation, ledger generation, seen generation, filter);
// repeated reads between changes do not recompute.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := projector.Key{
		SnapshotGeneration: e.snapGen,
		LedgerGeneration:   e.ledger.Generation(),
		SeenGeneration:     e.seenGen,
		Filter:             e.filter,
	}
	result := e.proj.Project(key, func() projector.Result {
		reconciled := e.ledger.Reconcile(e.snapshot.Sessions)
		grouped := e.groupedLocked(reconciled)
		return projector.Result{
			Sessions: projector.Project(reconciled, e.filter),
			Grouped:  grouped,
		}
	})

	v := View{
		Sessions:        result.Sessions,
		Grouped:         result.Grouped,
		Stats:           e.snapshot.Stats,
		Connectivity:    e.connectivity,
		LastUpdated:     e.lastUpdated,
		SelectedSession: e.selected,
		Query:           e.filter.Query,
		ShowClosed:      e.filter.ShowClosed,
		PendingActions:  e.ledger.Len(),
	}
	if e.connErr != nil {
		v.ConnectivityErr = e.connErr.Error()
	}
	// Pending local mutations make the snapshot's stats stale; rederive
	// them from the reconciled set until the backend catches up.
	if v.PendingActions > 0 {
		v.Stats = projector.DeriveStats(e.ledger.Reconcile(e.snapshot.Sessions), e.now())
	}
	return v
}

// groupedLocked builds the grouped projection. The backend's own grouped
// payload is the base when the snapshot carries one: its buckets get the
// ledger overlay, then the same filter, flags, and ordering as the flat
// view. Snapshots without grouped data fall back to grouping locally.
// Callers hold e.mu.
func (e *Engine) groupedLocked(reconciled []types.Session) []types.GroupedSessions {
	if len(e.snapshot.GroupedSessions) > 0 {
		base := e.ledger.ReconcileGrouped(e.snapshot.GroupedSessions)
		return projector.RefineGroups(base, e.filter, e.seen)
	}
	return projector.Group(reconciled, e.filter, e.seen)
}

// Session returns the reconciled session by ID.
func (e *Engine) Session(id types.SessionID) (types.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.ledger.Reconcile(e.snapshot.Sessions) {
		if s.ID == id {
			return s, true
		}
	}
	return types.Session{}, false
}

// SelectSession marks the session as viewed: its newest message becomes
// seen, clearing the bucket's new-message flag.
func (e *Engine) SelectSession(id types.SessionID) {
	e.mu.Lock()
	e.selected = id
	for _, s := range e.snapshot.Sessions {
		if s.ID == id && len(s.Messages) > 0 {
			e.seen[id] = s.Messages[len(s.Messages)-1].ID
			e.seenGen++
			break
		}
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) commitQuery(query string) {
	e.mu.Lock()
	e.filter.Query = query
	e.mu.Unlock()
	e.notify()
}

// SetSearchQuery updates the search filter after the debounce window.
func (e *Engine) SetSearchQuery(query string) {
	e.debouncer.Set(query)
}

// SetShowClosed toggles between the open and closed partitions immediately.
func (e *Engine) SetShowClosed(show bool) {
	e.mu.Lock()
	e.filter.ShowClosed = show
	e.mu.Unlock()
	e.notify()
}

// SetForeground forwards viewer visibility to the update channel.
func (e *Engine) SetForeground(fg bool) {
	if e.foreground != nil {
		e.foreground(fg)
	}
}

// RefetchNow asks the active channel for an immediate fetch.
func (e *Engine) RefetchNow() {
	if e.refetch != nil {
		e.refetch()
	}
}

// Draft returns the stored compose draft for a session.
func (e *Engine) Draft(id types.SessionID) string {
	return e.drafts.Get(id)
}

// SetDraft stores a compose draft for a session.
func (e *Engine) SetDraft(id types.SessionID, content string) {
	e.drafts.Set(id, content)
}

// SendMessage dispatches a message send and signals the view change.
func (e *Engine) SendMessage(ctx context.Context, id types.SessionID, content string, anonymous bool) error {
	err := e.dispatcher.SendMessage(ctx, id, content, anonymous)
	e.notify()
	return err
}

// TogglePin dispatches a pin toggle and signals the view change.
func (e *Engine) TogglePin(ctx context.Context, id types.SessionID, pin bool) error {
	err := e.dispatcher.TogglePin(ctx, id, pin)
	e.notify()
	return err
}

// CloseSession dispatches a session close and signals the view change.
func (e *Engine) CloseSession(ctx context.Context, id types.SessionID) error {
	err := e.dispatcher.CloseSession(ctx, id)
	e.notify()
	return err
}

// ClaimSession dispatches a claim and signals the view change.
func (e *Engine) ClaimSession(ctx context.Context, id types.SessionID) error {
	err := e.dispatcher.ClaimSession(ctx, id)
	e.notify()
	return err
}

// RateSatisfaction forwards a session satisfaction rating and signals the
// view change.
func (e *Engine) RateSatisfaction(ctx context.Context, id types.SessionID, rating string) error {
	err := e.dispatcher.RateSatisfaction(ctx, id, rating)
	e.notify()
	return err
}

// RefreshView signals consumers to re-read the view. Used by the ledger
// sweeper, whose retirements change the projection without a new snapshot.
func (e *Engine) RefreshView() {
	e.notify()
}

// LedgerEntries exposes the pending entries for debug surfaces.
func (e *Engine) LedgerEntries() []ledger.Entry {
	return e.ledger.Entries()
}
