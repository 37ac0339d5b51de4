package projector

import (
	"sort"
	"strings"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// IsGuestUser reports whether the external user ID marks an unauthenticated
// guest: an explicit guest_ prefix, or anything that is not a numeric
// platform ID.
func IsGuestUser(discordID string) bool {
	if discordID == "" {
		return true
	}
	if strings.HasPrefix(discordID, "guest_") {
		return true
	}
	for _, r := range discordID {
		if r < '0' || r > '9' {
			return true
		}
	}
	return false
}

// SeenMessages maps a session to the newest message the moderator has
// viewed in it. Sessions absent from the map have never been opened.
type SeenMessages map[types.SessionID]types.MessageID

// hasUnseenUserMessage reports whether the session's newest message was
// written by the session's user and has not been viewed yet.
func hasUnseenUserMessage(s types.Session, seen SeenMessages) bool {
	if len(s.Messages) == 0 {
		return false
	}
	last := s.Messages[len(s.Messages)-1]
	if last.AuthorID != s.UserID {
		return false
	}
	return seen[s.ID] != last.ID
}

// Group buckets the filtered view by user. Bucket flags are recomputed from
// the member sessions, never trusted from the snapshot, so overlaid
// optimistic state is reflected. Guest buckets match a search only through
// their session content since guest usernames are generated.
func Group(sessions []types.Session, f Filter, seen SeenMessages) []types.GroupedSessions {
	open, closed := partition(sessions)
	visible := open
	if f.ShowClosed {
		visible = closed
	}
	visible = filterSessions(visible, f.Query)

	order := make([]string, 0)
	buckets := make(map[string]*types.GroupedSessions)
	for _, s := range visible {
		key := s.User.DiscordID
		if key == "" {
			key = s.UserID
		}
		b, ok := buckets[key]
		if !ok {
			b = &types.GroupedSessions{
				User:        s.User,
				IsGuestUser: IsGuestUser(s.User.DiscordID),
			}
			buckets[key] = b
			order = append(order, key)
		}
		b.Sessions = append(b.Sessions, s)
	}

	out := make([]types.GroupedSessions, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		finishBucket(b, seen)
		out = append(out, *b)
	}

	sortBuckets(out, f.ShowClosed)
	return out
}

// RefineGroups projects backend-provided buckets instead of grouping
// locally: member sessions pass through the same partition and search as
// the flat view, buckets left with no visible session drop out, and flags
// are recomputed from the survivors so overlaid optimistic state counts.
func RefineGroups(groups []types.GroupedSessions, f Filter, seen SeenMessages) []types.GroupedSessions {
	out := make([]types.GroupedSessions, 0, len(groups))
	for _, g := range groups {
		open, closed := partition(g.Sessions)
		visible := open
		if f.ShowClosed {
			visible = closed
		}
		visible = filterSessions(visible, f.Query)
		if len(visible) == 0 {
			continue
		}
		b := types.GroupedSessions{
			User:        g.User,
			Sessions:    append([]types.Session(nil), visible...),
			IsGuestUser: g.IsGuestUser || IsGuestUser(g.User.DiscordID),
		}
		finishBucket(&b, seen)
		out = append(out, b)
	}

	sortBuckets(out, f.ShowClosed)
	return out
}

// finishBucket orders a bucket's members and recomputes its flags.
func finishBucket(b *types.GroupedSessions, seen SeenMessages) {
	sortOpen(b.Sessions)
	b.HasActiveSession = false
	b.HasNewMessages = false
	for _, s := range b.Sessions {
		if s.Status != types.StatusClosed {
			b.HasActiveSession = true
		}
		if s.LastActivity.After(b.LatestActivity) {
			b.LatestActivity = s.LastActivity
		}
		if hasUnseenUserMessage(s, seen) {
			b.HasNewMessages = true
		}
	}
}

// sortBuckets orders buckets with any pinned member first (open view only),
// then by latest activity.
func sortBuckets(buckets []types.GroupedSessions, showClosed bool) {
	pinned := func(b types.GroupedSessions) bool {
		for _, s := range b.Sessions {
			if s.IsPinned {
				return true
			}
		}
		return false
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		if !showClosed {
			pi, pj := pinned(buckets[i]), pinned(buckets[j])
			if pi != pj {
				return pi
			}
		}
		return buckets[i].LatestActivity.After(buckets[j].LatestActivity)
	})
}
