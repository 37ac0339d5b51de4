// internal/types/display.go
package types

import (
	"sort"
	"time"
)

// ViewKind selects whose perspective display helpers resolve for. The
// moderator view always sees real authors for audit; the user view sees
// anonymous moderator messages attributed to a shared staff identity.
type ViewKind string

const (
	UserView      ViewKind = "user"
	ModeratorView ViewKind = "moderator"
)

// AnonymousModerator is the shared display identity for anonymous replies.
var AnonymousModerator = User{
	ID:          "anon-mod",
	Username:    "Anon Mod",
	IsModerator: true,
}

// DisplayAuthor returns the author a message should be attributed to in the
// given view. The true author is always retained on the message itself.
func DisplayAuthor(m Message, view ViewKind) User {
	if view == ModeratorView {
		return m.Author
	}
	if m.IsAnonymous && m.Author.IsModerator {
		return AnonymousModerator
	}
	return m.Author
}

// DisplayName returns the name to render for a message. Moderators viewing
// an anonymous message see the real name with an anonymity marker.
func DisplayName(m Message, view ViewKind) string {
	if view == ModeratorView && m.IsAnonymous && m.Author.IsModerator {
		return m.Author.Username + " (Anonymous)"
	}
	return DisplayAuthor(m, view).Username
}

// LastModeratorReply returns the username of the most recent moderator
// message in the session, or "" if no moderator has replied.
func LastModeratorReply(s Session) string {
	var latest *Message
	for i := range s.Messages {
		m := &s.Messages[i]
		if !m.Author.IsModerator {
			continue
		}
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	if latest == nil {
		return ""
	}
	return latest.Author.Username
}

// IsUserInactive reports whether the session's user has been silent for more
// than an hour. Sessions with no user messages are not considered inactive.
func IsUserInactive(s Session, now time.Time) bool {
	var lastUser *Message
	for i := range s.Messages {
		m := &s.Messages[i]
		if m.Author.IsModerator {
			continue
		}
		if lastUser == nil || m.Timestamp.After(lastUser.Timestamp) {
			lastUser = m
		}
	}
	if lastUser == nil {
		return false
	}
	return lastUser.Timestamp.Before(now.Add(-time.Hour))
}

// SortMessages orders messages oldest first, the order chat views render in.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
