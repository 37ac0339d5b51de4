// internal/types/models.go
package types

import (
	"time"
)

// Session lifecycle states as the backend reports them.
const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusClosed  = "closed"
)

// Satisfaction ratings. An empty string means the user has not rated.
const (
	RatingThumbsUp   = "thumbs_up"
	RatingThumbsDown = "thumbs_down"
)

type User struct {
	ID          string    `json:"id"`
	DiscordID   string    `json:"discordId"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	IsModerator bool      `json:"isModerator"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Message struct {
	ID          MessageID `json:"id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	AuthorID    string    `json:"authorId"`
	SessionID   SessionID `json:"sessionId"`
	Author      User      `json:"author"`
	IsAnonymous bool      `json:"isAnonymous,omitempty"`
}

// Session is the client's read replica of a support session. It is created
// and mutated only by the backend of record; the ledger overlays pending
// local mutations onto copies of it.
type Session struct {
	ID                 SessionID  `json:"id"`
	UserID             string     `json:"userId"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	LastActivity       time.Time  `json:"lastActivity"`
	AssignedModerator  string     `json:"assignedModerator,omitempty"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	SatisfactionRating string     `json:"satisfactionRating,omitempty"`
	IsPinned           bool       `json:"isPinned,omitempty"`
	PinnedBy           string     `json:"pinnedBy,omitempty"`
	PinnedAt           *time.Time `json:"pinnedAt,omitempty"`
	User               User       `json:"user"`
	Messages           []Message  `json:"messages"`
}

// Clone returns a deep copy safe to mutate without touching the original.
func (s Session) Clone() Session {
	out := s
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		out.ClosedAt = &t
	}
	if s.PinnedAt != nil {
		t := *s.PinnedAt
		out.PinnedAt = &t
	}
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

type GroupedSessions struct {
	User             User      `json:"user"`
	Sessions         []Session `json:"sessions"`
	LatestActivity   time.Time `json:"latestActivity"`
	HasActiveSession bool      `json:"hasActiveSession"`
	HasNewMessages   bool      `json:"hasNewMessages"`
	IsGuestUser      bool      `json:"isGuestUser,omitempty"`
}

type ModeratorStats struct {
	TotalSessions    int `json:"totalSessions"`
	ActiveSessions   int `json:"activeSessions"`
	ResolvedToday    int `json:"resolvedToday"`
	SatisfactionRate int `json:"satisfactionRate"`
}

// Snapshot is a full authoritative read of backend state at a point in time.
// Version is the backend's monotonically non-decreasing update marker; the
// engine discards snapshots tagged older than the one already applied.
type Snapshot struct {
	Sessions        []Session         `json:"sessions"`
	GroupedSessions []GroupedSessions `json:"groupedSessions"`
	Stats           ModeratorStats    `json:"stats"`
	Version         int64             `json:"timestamp"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Sessions = CloneSessions(s.Sessions)
	out.GroupedSessions = make([]GroupedSessions, len(s.GroupedSessions))
	for i, g := range s.GroupedSessions {
		cg := g
		cg.Sessions = CloneSessions(g.Sessions)
		out.GroupedSessions[i] = cg
	}
	return out
}

// CloneSessions deep-copies a session slice.
func CloneSessions(sessions []Session) []Session {
	out := make([]Session, len(sessions))
	for i, s := range sessions {
		out[i] = s.Clone()
	}
	return out
}
