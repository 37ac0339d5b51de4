package ledger

import (
	"strings"
	"time"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// Reconcile overlays the pending entries onto a copy of the authoritative
// sessions. The input slice is never mutated; sessions an entry touches are
// deep-copied before patching. Overlay is deterministic: entries apply in
// creation order, later entries win on conflicting fields.
//
// Pin and unpin entries overlay only while younger than their freshness
// window and only when the snapshot still shows the pre-action state.
// Message entries append the provisional message unless the snapshot
// already contains it (by ID, or by near-duplicate heuristic). Status
// entries overlay unconditionally until retired or expired.
func (l *Ledger) Reconcile(sessions []types.Session) []types.Session {
	l.mu.Lock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	now := l.now()
	l.mu.Unlock()

	if len(entries) == 0 {
		return sessions
	}

	out := make([]types.Session, len(sessions))
	copy(out, sessions)
	copied := make(map[int]bool, len(entries))

	index := make(map[types.SessionID]int, len(out))
	for i := range out {
		index[out[i].ID] = i
	}

	for _, e := range entries {
		i, ok := index[e.SessionID]
		if !ok {
			// Session absent from this snapshot; nothing to overlay onto.
			continue
		}
		if !l.shouldOverlay(e, &out[i], now) {
			continue
		}
		if !copied[i] {
			out[i] = out[i].Clone()
			copied[i] = true
		}
		e.Patch.apply(&out[i])
		if e.Kind == KindMessage && e.Message != nil {
			out[i].Messages = append(out[i].Messages, *e.Message)
			types.SortMessages(out[i].Messages)
		}
	}
	return out
}

// ReconcileGrouped overlays pending entries onto grouped buckets. Each
// bucket's sessions go through the same overlay as Reconcile, then the
// bucket's latestActivity and hasActiveSession are recomputed from the
// overlaid sessions so they never contradict the member rows.
func (l *Ledger) ReconcileGrouped(groups []types.GroupedSessions) []types.GroupedSessions {
	out := make([]types.GroupedSessions, len(groups))
	for i, g := range groups {
		g.Sessions = l.Reconcile(g.Sessions)
		g.HasActiveSession = false
		for _, s := range g.Sessions {
			if s.Status != types.StatusClosed {
				g.HasActiveSession = true
			}
			if s.LastActivity.After(g.LatestActivity) {
				g.LatestActivity = s.LastActivity
			}
		}
		out[i] = g
	}
	return out
}

func (l *Ledger) shouldOverlay(e Entry, session *types.Session, now time.Time) bool {
	age := now.Sub(e.CreatedAt)

	switch e.Kind {
	case KindPin, KindUnpin:
		if age >= pinOverlayWindow {
			return false
		}
		// Snapshot already agrees; overlaying would only mask later flips.
		return e.Patch.IsPinned != nil && session.IsPinned != *e.Patch.IsPinned
	case KindMessage:
		if age >= messageOverlayWindow {
			return false
		}
		if e.Message == nil {
			return false
		}
		return !containsMessage(session.Messages, *e.Message, overlayTolerance)
	default:
		return true
	}
}

// containsMessage reports whether msgs already holds the provisional
// message: an exact ID match, or the near-duplicate heuristic of same
// trimmed content, same author, and timestamps within tolerance. The
// heuristic covers the server assigning its own identity to a message we
// sent moments ago.
func containsMessage(msgs []types.Message, provisional types.Message, tolerance time.Duration) bool {
	content := strings.TrimSpace(provisional.Content)
	for _, m := range msgs {
		if m.ID == provisional.ID {
			return true
		}
		if m.AuthorID != provisional.AuthorID {
			continue
		}
		if strings.TrimSpace(m.Content) != content {
			continue
		}
		delta := m.Timestamp.Sub(provisional.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= tolerance {
			return true
		}
	}
	return false
}
