package types

import (
	"testing"
	"time"
)

func TestProvisionalMessageID(t *testing.T) {
	id := NewProvisionalMessageID()
	if !id.IsProvisional() {
		t.Errorf("expected %q to be provisional", id)
	}
	if MessageID("m-999").IsProvisional() {
		t.Error("server-assigned ID should not be provisional")
	}

	other := NewProvisionalMessageID()
	if id == other {
		t.Error("provisional IDs should be unique")
	}
}

func TestSessionClone(t *testing.T) {
	pinned := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := Session{
		ID:       "s1",
		Status:   StatusActive,
		IsPinned: true,
		PinnedAt: &pinned,
		Messages: []Message{{ID: "m1", Content: "hello"}},
	}

	clone := orig.Clone()
	clone.Messages[0].Content = "changed"
	*clone.PinnedAt = pinned.Add(time.Hour)
	clone.Messages = append(clone.Messages, Message{ID: "m2"})

	if orig.Messages[0].Content != "hello" {
		t.Error("clone mutation leaked into original messages")
	}
	if !orig.PinnedAt.Equal(pinned) {
		t.Error("clone mutation leaked into original PinnedAt")
	}
	if len(orig.Messages) != 1 {
		t.Errorf("expected 1 message in original, got %d", len(orig.Messages))
	}
}

func TestDisplayAuthorAnonymous(t *testing.T) {
	mod := User{ID: "u-mod", Username: "alex", IsModerator: true}
	msg := Message{ID: "m1", Author: mod, IsAnonymous: true}

	if got := DisplayAuthor(msg, UserView); got.ID != AnonymousModerator.ID {
		t.Errorf("user view should see anonymous moderator, got %q", got.ID)
	}
	if got := DisplayAuthor(msg, ModeratorView); got.ID != mod.ID {
		t.Errorf("moderator view should see real author, got %q", got.ID)
	}
	if got := DisplayName(msg, ModeratorView); got != "alex (Anonymous)" {
		t.Errorf("unexpected moderator display name: %q", got)
	}
	if got := DisplayName(msg, UserView); got != "Anon Mod" {
		t.Errorf("unexpected user display name: %q", got)
	}
}

func TestDisplayAuthorPlain(t *testing.T) {
	author := User{ID: "u1", Username: "sam"}
	msg := Message{ID: "m1", Author: author}
	if got := DisplayAuthor(msg, UserView); got.ID != "u1" {
		t.Errorf("expected real author, got %q", got.ID)
	}
}

func TestLastModeratorReply(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Session{Messages: []Message{
		{Author: User{Username: "user"}, Timestamp: base},
		{Author: User{Username: "mod-a", IsModerator: true}, Timestamp: base.Add(time.Minute)},
		{Author: User{Username: "mod-b", IsModerator: true}, Timestamp: base.Add(2 * time.Minute)},
		{Author: User{Username: "user"}, Timestamp: base.Add(3 * time.Minute)},
	}}

	if got := LastModeratorReply(s); got != "mod-b" {
		t.Errorf("expected mod-b, got %q", got)
	}
	if got := LastModeratorReply(Session{}); got != "" {
		t.Errorf("expected empty reply for empty session, got %q", got)
	}
}

func TestIsUserInactive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	fresh := Session{Messages: []Message{
		{Author: User{Username: "user"}, Timestamp: now.Add(-10 * time.Minute)},
	}}
	if IsUserInactive(fresh, now) {
		t.Error("user active 10 minutes ago should not be inactive")
	}

	stale := Session{Messages: []Message{
		{Author: User{Username: "user"}, Timestamp: now.Add(-2 * time.Hour)},
		{Author: User{Username: "mod", IsModerator: true}, Timestamp: now.Add(-5 * time.Minute)},
	}}
	if !IsUserInactive(stale, now) {
		t.Error("moderator replies should not count as user activity")
	}

	if IsUserInactive(Session{}, now) {
		t.Error("session with no messages should not be inactive")
	}
}
