package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/WylieDituri/modmail-sync/internal/backend"
	"github.com/WylieDituri/modmail-sync/internal/ledger"
	"github.com/WylieDituri/modmail-sync/internal/types"
)

type fakeBackend struct {
	failCreate bool
	failUpdate bool
	failPin    bool
	failClaim  bool
	created    []backend.CreateMessageData
	updates    []backend.SessionUpdate
	pins       []bool
	claims     []string
	ratings    []string
}

func (f *fakeBackend) CreateMessage(ctx context.Context, data backend.CreateMessageData) (*types.Message, error) {
	if f.failCreate {
		return nil, errors.New("create rejected")
	}
	f.created = append(f.created, data)
	return &types.Message{ID: "server-1", Content: data.Content}, nil
}

func (f *fakeBackend) UpdateSession(ctx context.Context, id types.SessionID, update backend.SessionUpdate) (*types.Session, error) {
	if f.failUpdate {
		return nil, errors.New("update rejected")
	}
	f.updates = append(f.updates, update)
	return &types.Session{ID: id}, nil
}

func (f *fakeBackend) PinSession(ctx context.Context, id types.SessionID, pin bool) error {
	if f.failPin {
		return errors.New("pin rejected")
	}
	f.pins = append(f.pins, pin)
	return nil
}

func (f *fakeBackend) ClaimSession(ctx context.Context, id types.SessionID, moderatorID string) error {
	if f.failClaim {
		return errors.New("claim rejected")
	}
	f.claims = append(f.claims, moderatorID)
	return nil
}

func (f *fakeBackend) RateSatisfaction(ctx context.Context, id types.SessionID, rating string) error {
	f.ratings = append(f.ratings, rating)
	return nil
}

func newTestDispatcher(b Backend) (*Dispatcher, *ledger.Ledger, *DraftStore) {
	l := ledger.New()
	drafts := NewDraftStore()
	d := New(b, l, drafts, Moderator{ID: "mod1", Username: "alice"})
	return d, l, drafts
}

func TestSendMessage_Success(t *testing.T) {
	f := &fakeBackend{}
	d, l, drafts := newTestDispatcher(f)
	drafts.Set("s1", "hello")

	if err := d.SendMessage(context.Background(), "s1", "hello", false); err != nil {
		t.Fatalf("send: %v", err)
	}

	if drafts.Get("s1") != "" {
		t.Error("draft must be cleared on success")
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 pending entry, got %d", l.Len())
	}
	if len(f.created) != 1 || f.created[0].Content != "hello" {
		t.Errorf("create payload mismatch: %+v", f.created)
	}
	if len(f.updates) != 1 || f.updates[0].Status != types.StatusActive {
		t.Errorf("session must be activated after send: %+v", f.updates)
	}

	entries := l.Entries()
	if !entries[0].Message.ID.IsProvisional() {
		t.Error("optimistic message must carry a provisional identity")
	}
}

func TestSendMessage_FailureRestoresDraftAndDiscards(t *testing.T) {
	f := &fakeBackend{failCreate: true}
	d, l, drafts := newTestDispatcher(f)
	drafts.Set("s1", "important draft")

	err := d.SendMessage(context.Background(), "s1", "important draft", false)
	if err == nil {
		t.Fatal("expected send failure")
	}
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected ActionError, got %T", err)
	}

	if l.Len() != 0 {
		t.Errorf("failed send must discard its entry, %d pending", l.Len())
	}
	if drafts.Get("s1") != "important draft" {
		t.Errorf("draft not restored: %q", drafts.Get("s1"))
	}
}

func TestSendMessage_ActivationFailureKeepsMessage(t *testing.T) {
	f := &fakeBackend{failUpdate: true}
	d, l, drafts := newTestDispatcher(f)
	drafts.Set("s1", "hello")

	if err := d.SendMessage(context.Background(), "s1", "hello", false); err != nil {
		t.Fatalf("a failed status bump must not fail the send: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("entry must survive a failed status bump, %d pending", l.Len())
	}
	if drafts.Get("s1") != "" {
		t.Error("draft must stay cleared; the message was persisted")
	}
}

func TestSendMessage_Guards(t *testing.T) {
	d, l, _ := newTestDispatcher(&fakeBackend{})

	if err := d.SendMessage(context.Background(), "s1", "   ", false); err == nil {
		t.Error("whitespace-only content must be rejected")
	}
	if err := d.SendMessage(context.Background(), "", "hello", false); err == nil {
		t.Error("missing session must be rejected")
	}
	if l.Len() != 0 {
		t.Errorf("guard failures must not record entries, got %d", l.Len())
	}
}

func TestTogglePin_FailureDiscards(t *testing.T) {
	f := &fakeBackend{failPin: true}
	d, l, _ := newTestDispatcher(f)

	if err := d.TogglePin(context.Background(), "s1", true); err == nil {
		t.Fatal("expected pin failure")
	}
	if l.Len() != 0 {
		t.Errorf("failed pin must discard its entry, %d pending", l.Len())
	}
}

func TestTogglePin_Success(t *testing.T) {
	f := &fakeBackend{}
	d, l, _ := newTestDispatcher(f)

	if err := d.TogglePin(context.Background(), "s1", true); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("expected pending pin entry, got %d", l.Len())
	}
	if len(f.pins) != 1 || !f.pins[0] {
		t.Errorf("pin not forwarded: %+v", f.pins)
	}
}

func TestCloseSession(t *testing.T) {
	f := &fakeBackend{}
	d, l, _ := newTestDispatcher(f)

	if err := d.CloseSession(context.Background(), "s1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(f.updates) != 1 || f.updates[0].Status != types.StatusClosed {
		t.Errorf("close payload mismatch: %+v", f.updates)
	}
	if f.updates[0].AssignedModerator != "mod1" {
		t.Errorf("close must claim for the actor: %+v", f.updates[0])
	}
	if l.Len() != 1 {
		t.Errorf("expected pending status entry, got %d", l.Len())
	}
}

func TestClaimSession_FailureDiscards(t *testing.T) {
	f := &fakeBackend{failClaim: true}
	d, l, _ := newTestDispatcher(f)

	if err := d.ClaimSession(context.Background(), "s1"); err == nil {
		t.Fatal("expected claim failure")
	}
	if l.Len() != 0 {
		t.Errorf("failed claim must discard its entry, %d pending", l.Len())
	}
}

func TestRateSatisfaction_RejectsUnknownRating(t *testing.T) {
	d, _, _ := newTestDispatcher(&fakeBackend{})
	if err := d.RateSatisfaction(context.Background(), "s1", "meh"); err == nil {
		t.Error("unknown rating must be rejected")
	}
}
