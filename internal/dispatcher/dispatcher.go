// Package dispatcher issues moderator actions against the backend with
// optimistic ledger entries recorded first, so the local view reflects the
// action immediately and reverts if the backend rejects it.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WylieDituri/modmail-sync/internal/backend"
	"github.com/WylieDituri/modmail-sync/internal/ledger"
	"github.com/WylieDituri/modmail-sync/internal/types"
)

// ActionError is a failed moderator action, suitable for a dismissible
// notice. The optimistic entry behind the action has already been reversed
// by the time this is returned.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Backend is the mutating subset of the backend client the dispatcher needs.
type Backend interface {
	CreateMessage(ctx context.Context, data backend.CreateMessageData) (*types.Message, error)
	UpdateSession(ctx context.Context, id types.SessionID, update backend.SessionUpdate) (*types.Session, error)
	PinSession(ctx context.Context, id types.SessionID, pin bool) error
	ClaimSession(ctx context.Context, id types.SessionID, moderatorID string) error
	RateSatisfaction(ctx context.Context, id types.SessionID, rating string) error
}

// Moderator identifies the acting moderator on outgoing actions.
type Moderator struct {
	ID       string
	Username string
}

type Dispatcher struct {
	backend   Backend
	ledger    *ledger.Ledger
	drafts    *DraftStore
	moderator Moderator
	now       func() time.Time
}

type Option func(*Dispatcher)

// WithClock injects the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(b Backend, l *ledger.Ledger, drafts *DraftStore, mod Moderator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:   b,
		ledger:    l,
		drafts:    drafts,
		moderator: mod,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendMessage sends content to the session. The draft is cleared before the
// network call so the compose surface empties instantly; on failure the
// draft is restored and the optimistic entry discarded. A successful send
// changes nothing locally beyond the ledger entry, which snapshot
// reconciliation retires once the backend echoes the message.
func (d *Dispatcher) SendMessage(ctx context.Context, sessionID types.SessionID, content string, anonymous bool) error {
	if strings.TrimSpace(content) == "" {
		return &ActionError{Action: "send message", Err: fmt.Errorf("empty message")}
	}
	if sessionID == "" {
		return &ActionError{Action: "send message", Err: fmt.Errorf("no session selected")}
	}

	prevDraft := d.drafts.Get(sessionID)
	d.drafts.Clear(sessionID)

	now := d.now()
	provisional := types.Message{
		ID:          types.NewProvisionalMessageID(),
		Content:     content,
		Timestamp:   now,
		AuthorID:    d.moderator.ID,
		SessionID:   sessionID,
		IsAnonymous: anonymous,
		Author: types.User{
			ID:          d.moderator.ID,
			Username:    d.moderator.Username,
			IsModerator: true,
		},
	}
	entryID := d.ledger.RecordMessage(sessionID, provisional, d.moderator.ID)

	created, err := d.backend.CreateMessage(ctx, backend.CreateMessageData{
		Content:     content,
		AuthorID:    d.moderator.ID,
		AuthorName:  d.moderator.Username,
		SessionID:   sessionID,
		IsAnonymous: anonymous,
	})
	if err != nil {
		d.ledger.Discard(entryID)
		d.drafts.Set(sessionID, prevDraft)
		return &ActionError{Action: "send message", Err: err}
	}
	slog.Debug("message sent", "session_id", string(sessionID), "message_id", string(created.ID))

	// The message is persisted either way; a failed status bump is not worth
	// reverting the send over.
	if _, err := d.backend.UpdateSession(ctx, sessionID, backend.SessionUpdate{
		Status:            types.StatusActive,
		AssignedModerator: d.moderator.ID,
	}); err != nil {
		slog.Warn("session activation after send failed", "session_id", string(sessionID), "error", err)
	}
	return nil
}

// TogglePin pins or unpins the session.
func (d *Dispatcher) TogglePin(ctx context.Context, sessionID types.SessionID, pin bool) error {
	entryID := d.ledger.RecordPin(sessionID, pin, d.moderator.ID)
	if err := d.backend.PinSession(ctx, sessionID, pin); err != nil {
		d.ledger.Discard(entryID)
		return &ActionError{Action: "toggle pin", Err: err}
	}
	return nil
}

// CloseSession closes the session and claims it for the acting moderator.
func (d *Dispatcher) CloseSession(ctx context.Context, sessionID types.SessionID) error {
	entryID := d.ledger.RecordStatus(sessionID, types.StatusClosed, d.moderator.ID)
	if _, err := d.backend.UpdateSession(ctx, sessionID, backend.SessionUpdate{
		Status:            types.StatusClosed,
		AssignedModerator: d.moderator.ID,
	}); err != nil {
		d.ledger.Discard(entryID)
		return &ActionError{Action: "close session", Err: err}
	}
	return nil
}

// ClaimSession assigns the session to the acting moderator and marks it
// active.
func (d *Dispatcher) ClaimSession(ctx context.Context, sessionID types.SessionID) error {
	entryID := d.ledger.RecordStatus(sessionID, types.StatusActive, d.moderator.ID)
	if err := d.backend.ClaimSession(ctx, sessionID, d.moderator.ID); err != nil {
		d.ledger.Discard(entryID)
		return &ActionError{Action: "claim session", Err: err}
	}
	return nil
}

// RateSatisfaction forwards a satisfaction rating. No optimistic entry: the
// rating never affects the moderator view ordering.
func (d *Dispatcher) RateSatisfaction(ctx context.Context, sessionID types.SessionID, rating string) error {
	if rating != types.RatingThumbsUp && rating != types.RatingThumbsDown {
		return &ActionError{Action: "rate satisfaction", Err: fmt.Errorf("unknown rating %q", rating)}
	}
	if err := d.backend.RateSatisfaction(ctx, sessionID, rating); err != nil {
		return &ActionError{Action: "rate satisfaction", Err: err}
	}
	return nil
}
