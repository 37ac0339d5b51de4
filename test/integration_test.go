//go:build integration

package test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/WylieDituri/modmail-sync/internal/backend"
	"github.com/WylieDituri/modmail-sync/internal/channel"
	"github.com/WylieDituri/modmail-sync/internal/dispatcher"
	"github.com/WylieDituri/modmail-sync/internal/engine"
	"github.com/WylieDituri/modmail-sync/internal/ledger"
	"github.com/WylieDituri/modmail-sync/internal/types"
)

// modmailStub is a minimal in-memory backend of record: a version marker,
// a session table, and the mutating routes the dispatcher calls.
type modmailStub struct {
	mu       sync.Mutex
	version  int64
	sessions map[types.SessionID]*types.Session
}

func newModmailStub() *modmailStub {
	now := time.Now()
	return &modmailStub{
		version: 1,
		sessions: map[types.SessionID]*types.Session{
			"s1": {
				ID:           "s1",
				UserID:       "u1",
				Status:       types.StatusWaiting,
				LastActivity: now,
				User:         types.User{ID: "u1", DiscordID: "12345", Username: "bob"},
			},
		},
	}
}

func (m *modmailStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]int64{"version": m.version})
	})
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		out := make([]types.Session, 0, len(m.sessions))
		for _, s := range m.sessions {
			out = append(out, *s)
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/api/sessions/grouped", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]types.GroupedSessions{})
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.ModeratorStats{})
	})
	mux.HandleFunc("/api/sessions/s1/pin", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Pin bool `json:"pin"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.sessions["s1"].IsPinned = body.Pin
		m.version++
		m.mu.Unlock()
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		var data backend.CreateMessageData
		json.NewDecoder(r.Body).Decode(&data)
		msg := types.Message{
			ID:        "server-msg-1",
			Content:   data.Content,
			AuthorID:  data.AuthorID,
			SessionID: data.SessionID,
			Timestamp: time.Now(),
		}
		m.mu.Lock()
		s := m.sessions[data.SessionID]
		s.Messages = append(s.Messages, msg)
		s.Status = types.StatusActive
		s.LastActivity = msg.Timestamp
		m.version++
		m.mu.Unlock()
		json.NewEncoder(w).Encode(msg)
	})
	mux.HandleFunc("/api/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.Session{ID: "s1"})
	})
	return mux
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for " + what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEndToEndPinFlow(t *testing.T) {
	stub := newModmailStub()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := backend.New(srv.URL, "auth-token=test")
	led := ledger.New()
	drafts := dispatcher.NewDraftStore()
	disp := dispatcher.New(client, led, drafts, dispatcher.Moderator{ID: "mod1", Username: "alice"})
	eng := engine.New(led, disp, drafts)
	defer eng.Close()

	poller := channel.NewPoller(client, 20*time.Millisecond, channel.Events{
		OnSnapshot:     eng.ApplySnapshot,
		OnConnectivity: eng.SetConnectivity,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	waitFor(t, "initial snapshot", func() bool {
		return len(eng.View().Sessions) == 1
	})

	// Pin: the view must flip immediately, before any poll lands.
	if err := eng.TogglePin(ctx, "s1", true); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if v := eng.View(); !v.Sessions[0].IsPinned {
		t.Fatal("pin must appear in the view synchronously")
	}

	// The backend confirms through the next snapshots; the entry retires and
	// the pin must survive the handoff from overlay to authoritative state.
	waitFor(t, "pin entry retirement", func() bool {
		led.Retire(eng.AuthoritativeSessions())
		return led.Len() == 0
	})
	if v := eng.View(); !v.Sessions[0].IsPinned {
		t.Error("pin must persist after the overlay retires")
	}
}

func TestEndToEndSendFlow(t *testing.T) {
	stub := newModmailStub()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := backend.New(srv.URL, "auth-token=test")
	led := ledger.New()
	drafts := dispatcher.NewDraftStore()
	disp := dispatcher.New(client, led, drafts, dispatcher.Moderator{ID: "mod1", Username: "alice"})
	eng := engine.New(led, disp, drafts)
	defer eng.Close()

	poller := channel.NewPoller(client, 20*time.Millisecond, channel.Events{
		OnSnapshot:     eng.ApplySnapshot,
		OnConnectivity: eng.SetConnectivity,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	waitFor(t, "initial snapshot", func() bool {
		return len(eng.View().Sessions) == 1
	})

	if err := eng.SendMessage(ctx, "s1", "how can I help?", false); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The provisional message shows instantly and the session turns active.
	s, ok := eng.Session("s1")
	if !ok {
		t.Fatal("session missing")
	}
	if len(s.Messages) != 1 || s.Status != types.StatusActive {
		t.Fatalf("optimistic send not reflected: %d messages, status %s", len(s.Messages), s.Status)
	}

	// Once the backend echoes the message, exactly one copy remains.
	waitFor(t, "authoritative echo", func() bool {
		s, _ := eng.Session("s1")
		return len(s.Messages) == 1 && s.Messages[0].ID == "server-msg-1"
	})
}
