package projector

import (
	"sync"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// Result is one computed view projection.
type Result struct {
	Sessions []types.Session
	Grouped  []types.GroupedSessions
}

// Key identifies the inputs a projection depends on. Two equal keys always
// produce the same Result, so the projection can be reused. The snapshot is
// tracked by an apply generation rather than the backend version marker:
// equal-version and untagged snapshots may still carry different content.
type Key struct {
	SnapshotGeneration uint64
	LedgerGeneration   uint64
	SeenGeneration     uint64
	Filter             Filter
}

// Projector memoizes the last projection. Repeated reads between changes
// (common with several push consumers attached) cost a key comparison
// instead of a recompute.
type Projector struct {
	mu     sync.Mutex
	valid  bool
	key    Key
	result Result
}

// Project returns the cached result when key matches the previous call,
// otherwise runs compute and caches its output.
func (p *Projector) Project(key Key, compute func() Result) Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid && p.key == key {
		return p.result
	}
	p.result = compute()
	p.key = key
	p.valid = true
	return p.result
}

// Invalidate drops the cached projection.
func (p *Projector) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = false
}
