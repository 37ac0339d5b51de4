// Package projector turns reconciled sessions into the filtered, sorted,
// grouped views a presentation layer renders. Everything here is pure over
// its inputs; the memoizing Projector caches the last computation.
package projector

import (
	"sort"
	"strings"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// Filter is the view selection state.
type Filter struct {
	Query      string
	ShowClosed bool
}

// partition splits sessions by lifecycle: anything not closed counts as open.
func partition(sessions []types.Session) (open, closed []types.Session) {
	for _, s := range sessions {
		if s.Status == types.StatusClosed {
			closed = append(closed, s)
		} else {
			open = append(open, s)
		}
	}
	return open, closed
}

// matchesQuery reports whether the session matches a case-insensitive
// search over username, external user ID, and message content.
func matchesQuery(s types.Session, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(s.User.Username), q) {
		return true
	}
	if strings.Contains(strings.ToLower(s.User.DiscordID), q) {
		return true
	}
	for _, m := range s.Messages {
		if strings.Contains(strings.ToLower(m.Content), q) {
			return true
		}
	}
	return false
}

func filterSessions(sessions []types.Session, query string) []types.Session {
	if query == "" {
		return sessions
	}
	out := make([]types.Session, 0, len(sessions))
	for _, s := range sessions {
		if matchesQuery(s, query) {
			out = append(out, s)
		}
	}
	return out
}

// sortOpen orders the open view: pinned sessions first, then most recent
// activity. Ties between two pinned sessions fall back to activity as well.
func sortOpen(sessions []types.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].IsPinned != sessions[j].IsPinned {
			return sessions[i].IsPinned
		}
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
}

// sortClosed orders the closed view by activity only; pins carry no weight
// once a session is closed.
func sortClosed(sessions []types.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
}

// Project computes the flat session view for the filter: the open or closed
// partition, searched and sorted. The input is not mutated.
func Project(sessions []types.Session, f Filter) []types.Session {
	open, closed := partition(sessions)
	var visible []types.Session
	if f.ShowClosed {
		visible = filterSessions(closed, f.Query)
		visible = append([]types.Session(nil), visible...)
		sortClosed(visible)
	} else {
		visible = filterSessions(open, f.Query)
		visible = append([]types.Session(nil), visible...)
		sortOpen(visible)
	}
	return visible
}
