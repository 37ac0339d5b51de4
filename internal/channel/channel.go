// Package channel delivers backend snapshots to the engine over one of two
// adapters: a polling loop or a server-sent-events stream. Adapters report
// connectivity transitions alongside data so the UI surface can show
// live/polling/reconnecting/failed state.
package channel

import (
	"context"

	"github.com/WylieDituri/modmail-sync/internal/types"
)

// State is the connectivity of the active update channel.
type State string

const (
	// StateConnected means a live stream is established.
	StateConnected State = "connected"
	// StatePolling means the polling adapter is the source of updates.
	StatePolling State = "polling"
	// StateReconnecting means the stream dropped and a retry is pending.
	StateReconnecting State = "reconnecting"
	// StateFailed is terminal: reconnect attempts are exhausted and no
	// further updates will arrive until the adapter is restarted.
	StateFailed State = "failed"
)

// Events receives adapter output. OnSnapshot carries a fresh authoritative
// snapshot; OnConnectivity fires on every state transition. Callbacks are
// invoked from the adapter's goroutine and must not block for long.
type Events struct {
	OnSnapshot     func(*types.Snapshot)
	OnConnectivity func(State, error)
}

func (ev Events) snapshot(snap *types.Snapshot) {
	if ev.OnSnapshot != nil {
		ev.OnSnapshot(snap)
	}
}

func (ev Events) connectivity(state State, err error) {
	if ev.OnConnectivity != nil {
		ev.OnConnectivity(state, err)
	}
}

// Adapter is an update channel. Run blocks until ctx is cancelled or the
// adapter reaches a terminal state.
type Adapter interface {
	Run(ctx context.Context) error
}
