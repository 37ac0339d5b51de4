package dispatcher

import (
	"sync"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// DraftStore keeps per-session compose drafts so switching sessions does not
// lose typed text, and a failed send can restore what was cleared.
type DraftStore struct {
	mu     sync.Mutex
	drafts map[types.SessionID]string
}

func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[types.SessionID]string)}
}

func (s *DraftStore) Get(id types.SessionID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[id]
}

func (s *DraftStore) Set(id types.SessionID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if content == "" {
		delete(s.drafts, id)
		return
	}
	s.drafts[id] = content
}

func (s *DraftStore) Clear(id types.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
}
