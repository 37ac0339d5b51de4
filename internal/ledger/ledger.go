// Package ledger records pending local mutations (pin/unpin, outgoing
// message, status change) and overlays them onto authoritative snapshots
// until the backend is observed to reflect them, they are discarded on
// request failure, or they hit their backstop age.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

type Kind string

const (
	KindPin     Kind = "pin"
	KindUnpin   Kind = "unpin"
	KindMessage Kind = "message"
	KindStatus  Kind = "status"
)

// Timing windows. Overlay windows bound how long an unconfirmed entry keeps
// masking snapshot state; grace periods stop a just-recorded entry from
// retiring against a snapshot that raced with the server write; max ages are
// the unconditional backstop.
const (
	pinOverlayWindow     = 5 * time.Second
	messageOverlayWindow = 10 * time.Second
	overlayTolerance     = 8 * time.Second
	pinRetireGrace       = 2 * time.Second
	messageRetireGrace   = 3 * time.Second
	retireTolerance      = 15 * time.Second
	pinMaxAge            = 15 * time.Second
	messageMaxAge        = 20 * time.Second
	statusMaxAge         = 10 * time.Second
)

// SweepInterval is the cadence of the retirement sweep.
const SweepInterval = 5 * time.Second

// Patch is the partial-session overlay an entry carries. Nil fields are
// untouched; set fields are shallow-merged onto the session.
type Patch struct {
	Status            *string
	AssignedModerator *string
	IsPinned          *bool
	PinnedBy          *string
	PinnedAt          *time.Time
	LastActivity      *time.Time
}

func (p Patch) apply(s *types.Session) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.AssignedModerator != nil {
		s.AssignedModerator = *p.AssignedModerator
	}
	if p.IsPinned != nil {
		s.IsPinned = *p.IsPinned
	}
	if p.PinnedBy != nil {
		s.PinnedBy = *p.PinnedBy
	}
	p.applyPinnedAt(s)
	if p.LastActivity != nil {
		s.LastActivity = *p.LastActivity
	}
}

// applyPinnedAt clears PinnedAt on unpin patches so the pin invariant
// (pinnedAt non-nil iff pinned) holds on the overlaid session.
func (p Patch) applyPinnedAt(s *types.Session) {
	if p.IsPinned == nil {
		return
	}
	if *p.IsPinned {
		if p.PinnedAt != nil {
			t := *p.PinnedAt
			s.PinnedAt = &t
		}
	} else {
		s.PinnedAt = nil
	}
}

// Entry is one pending local mutation. ID is synthetic and never a domain
// identity; Message is set only for KindMessage entries and carries a
// provisional identity distinct from any server-assigned one.
type Entry struct {
	ID        types.EntryID
	Kind      Kind
	SessionID types.SessionID
	Patch     Patch
	CreatedAt time.Time
	Message   *types.Message
}

func (e Entry) maxAge() time.Duration {
	switch e.Kind {
	case KindPin, KindUnpin:
		return pinMaxAge
	case KindMessage:
		return messageMaxAge
	default:
		return statusMaxAge
	}
}

// Ledger holds pending entries in creation order. All operations are
// synchronous and in-memory; the ledger itself never fails.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
	gen     uint64
}

type Option func(*Ledger)

// WithClock injects the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordPin records an optimistic pin or unpin of a session by actor.
func (l *Ledger) RecordPin(sessionID types.SessionID, pinned bool, actor string) types.EntryID {
	now := l.now()
	kind := KindPin
	pinnedBy := actor
	var pinnedAt *time.Time
	if pinned {
		t := now
		pinnedAt = &t
	} else {
		kind = KindUnpin
		pinnedBy = ""
	}

	entry := Entry{
		ID:        types.NewEntryID(),
		Kind:      kind,
		SessionID: sessionID,
		CreatedAt: now,
		Patch: Patch{
			IsPinned: &pinned,
			PinnedBy: &pinnedBy,
			PinnedAt: pinnedAt,
		},
	}
	l.append(entry)
	return entry.ID
}

// RecordMessage records an optimistic outgoing message. The provisional
// message must carry a provisional identity; the session is forced active
// and its activity bumped when the entry overlays.
func (l *Ledger) RecordMessage(sessionID types.SessionID, msg types.Message, assignedModerator string) types.EntryID {
	now := l.now()
	active := types.StatusActive
	entry := Entry{
		ID:        types.NewEntryID(),
		Kind:      KindMessage,
		SessionID: sessionID,
		CreatedAt: now,
		Message:   &msg,
		Patch: Patch{
			Status:       &active,
			LastActivity: &now,
		},
	}
	if assignedModerator != "" {
		entry.Patch.AssignedModerator = &assignedModerator
	}
	l.append(entry)
	return entry.ID
}

// RecordStatus records an optimistic status change (e.g. closing a session).
func (l *Ledger) RecordStatus(sessionID types.SessionID, status, assignedModerator string) types.EntryID {
	entry := Entry{
		ID:        types.NewEntryID(),
		Kind:      KindStatus,
		SessionID: sessionID,
		CreatedAt: l.now(),
		Patch:     Patch{Status: &status},
	}
	if assignedModerator != "" {
		entry.Patch.AssignedModerator = &assignedModerator
	}
	l.append(entry)
	return entry.ID
}

func (l *Ledger) append(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	l.gen++
}

// Discard removes an entry unconditionally. Called by the dispatcher on
// confirmed request failure so the next render reverts immediately.
func (l *Ledger) Discard(id types.EntryID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			l.gen++
			return
		}
	}
}

// Entries returns a copy of the pending entries, for debug tooling.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of pending entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Generation increments on every entry mutation; projections use it to
// detect ledger changes without comparing entry slices.
func (l *Ledger) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// Retire removes entries whose intended change is now reflected by the
// given authoritative sessions, subject to each kind's grace period.
// Returns the number of entries retired.
func (l *Ledger) Retire(sessions []types.Session) int {
	byID := make(map[types.SessionID]*types.Session, len(sessions))
	for i := range sessions {
		byID[sessions[i].ID] = &sessions[i]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	kept := l.entries[:0]
	retired := 0
	for _, e := range l.entries {
		if l.confirmed(e, byID[e.SessionID], now) {
			slog.Debug("optimistic entry retired", "entry_id", string(e.ID), "kind", string(e.Kind), "session_id", string(e.SessionID))
			retired++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	if retired > 0 {
		l.gen++
	}
	return retired
}

func (l *Ledger) confirmed(e Entry, session *types.Session, now time.Time) bool {
	if session == nil {
		return false
	}
	age := now.Sub(e.CreatedAt)

	switch e.Kind {
	case KindPin, KindUnpin:
		if e.Patch.IsPinned == nil || age < pinRetireGrace {
			return false
		}
		return session.IsPinned == *e.Patch.IsPinned
	case KindMessage:
		if e.Message == nil || age < messageRetireGrace {
			return false
		}
		return containsMessage(session.Messages, *e.Message, retireTolerance)
	default:
		// Status entries have no confirmation signal; the backstop owns them.
		return false
	}
}

// Expire is the backstop: any entry older than its kind's max age is
// removed regardless of snapshot content. Slow networks hit this routinely,
// so it logs at debug only.
func (l *Ledger) Expire() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	kept := l.entries[:0]
	expired := 0
	for _, e := range l.entries {
		if now.Sub(e.CreatedAt) >= e.maxAge() {
			slog.Debug("optimistic entry expired", "entry_id", string(e.ID), "kind", string(e.Kind), "age", now.Sub(e.CreatedAt))
			expired++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	if expired > 0 {
		l.gen++
	}
	return expired
}
