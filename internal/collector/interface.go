package collector

import (
	"context"

	"codeberg.org/mutker/vramwatch/internal/store"
	"codeberg.org/mutker/vramwatch/internal/vram"
)

// Fetcher retrieves one allocator sample from a node.
type Fetcher interface {
	Fetch(ctx context.Context) (*vram.Payload, error)
}

// Committer persists one sample for a node. Implementations must be safe for
// use from multiple workers.
type Committer interface {
	Commit(ctx context.Context, nodeID string, payload *vram.Payload) error
}

// FetcherFactory builds the Fetcher a worker polls its node with.
type FetcherFactory func(node store.Node) (Fetcher, error)

// HTTPFetcherFactory builds fetchers against each node's /vram endpoint.
func HTTPFetcherFactory(node store.Node) (Fetcher, error) {
	return vram.NewClient(node.Host, node.Port)
}

// State is a worker's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
