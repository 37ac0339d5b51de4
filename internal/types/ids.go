// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionID string
type MessageID string
type EntryID string

// provisionalPrefix marks client-generated message IDs. Server-assigned IDs
// never carry it, so identity-based matching cannot collide with them.
const provisionalPrefix = "temp-"

func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

// NewProvisionalMessageID returns a message ID for a not-yet-confirmed
// message. The UUID doubles as an exact client-side idempotency token.
func NewProvisionalMessageID() MessageID {
	return MessageID(provisionalPrefix + uuid.New().String())
}

func (id MessageID) IsProvisional() bool {
	return strings.HasPrefix(string(id), provisionalPrefix)
}
