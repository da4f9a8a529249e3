package store

import (
	"context"
	"time"

	"codeberg.org/mutker/vramwatch/internal/vram"
)

// Node is a monitored GPU machine. LastSeen is nil until the first snapshot
// is committed for it.
type Node struct {
	ID        string
	Name      string
	Host      string
	Port      int
	Enabled   bool
	CreatedAt time.Time
	LastSeen  *time.Time
}

// NodeUpdate is a partial node update; nil fields are left unchanged.
type NodeUpdate struct {
	Name    *string
	Host    *string
	Port    *int
	Enabled *bool
}

// SnapshotRow is one persisted snapshot without its child rows.
type SnapshotRow struct {
	ID                     int64
	NodeID                 string
	Timestamp              time.Time
	TotalBytes             int64
	UsedBytes              int64
	FreeBytes              int64
	ReservedBytes          int64
	UsedPercent            float64
	AllocatedBlocks        int64
	FreeBlocks             int64
	UtilizedBlocks         int64
	AtomicAllocationsBytes int64
	FragmentationRatio     float64
	NumProcesses           int
	NumThreads             int
	NumBlocks              int
	KVCacheUtilization     float64
	MemoryUtilization      float64
	MemoryFragmentation    float64
}

// SnapshotDetail is a snapshot together with all of its child rows.
type SnapshotDetail struct {
	SnapshotRow
	VLLMMetrics     string
	Processes       []vram.Process
	Threads         []vram.Thread
	Blocks          []vram.Block
	ProfilerMetrics []vram.ProfilerMetric
}

// RangeQuery bounds a snapshot range scan. A zero time means unbounded on
// that side; empty NodeID means all nodes.
type RangeQuery struct {
	Start  time.Time
	End    time.Time
	NodeID string
}

// Summary aggregates snapshot statistics over a range.
type Summary struct {
	TotalSnapshots   int64
	TimeRangeStart   time.Time
	TimeRangeEnd     time.Time
	AvgUsedBytes     float64
	MaxUsedBytes     int64
	MinUsedBytes     int64
	AvgUsedPercent   float64
	AvgFragmentation float64
	MaxFragmentation float64
}

// ProcessSample is one process row joined with its snapshot timestamp. It is
// served to API clients as-is.
type ProcessSample struct {
	PID           int       `json:"pid"`
	Name          string    `json:"name"`
	Timestamp     time.Time `json:"timestamp"`
	UsedBytes     int64     `json:"used_bytes"`
	ReservedBytes int64     `json:"reserved_bytes"`
}

// NodeStore manages node registrations.
type NodeStore interface {
	CreateNode(ctx context.Context, name, host string, port int) (*Node, error)
	GetNode(ctx context.Context, id string) (*Node, error)
	ListNodes(ctx context.Context) ([]Node, error)
	ListEnabledNodes(ctx context.Context) ([]Node, error)
	UpdateNode(ctx context.Context, id string, update NodeUpdate) (*Node, error)
	DeleteNode(ctx context.Context, id string) error
}

// SnapshotWriter is the append side of the store. InsertSnapshot persists a
// snapshot with all child rows and advances the node's last_seen in one
// transaction; it is the sole writer of last_seen.
type SnapshotWriter interface {
	InsertSnapshot(ctx context.Context, nodeID string, snapshot *vram.Snapshot) (int64, error)
}

// SnapshotReader is the query side of the store.
type SnapshotReader interface {
	SnapshotsInRange(ctx context.Context, q RangeQuery) ([]SnapshotRow, error)
	LatestSnapshot(ctx context.Context, nodeID string) (*SnapshotRow, error)
	ListSnapshots(ctx context.Context, limit, offset int, q RangeQuery) ([]SnapshotRow, error)
	SnapshotDetail(ctx context.Context, id int64) (*SnapshotDetail, error)
	Summarize(ctx context.Context, q RangeQuery) (*Summary, error)
	ProcessSamples(ctx context.Context, q RangeQuery) ([]ProcessSample, error)
}

// Store is the full persistence contract.
type Store interface {
	NodeStore
	SnapshotWriter
	SnapshotReader
	PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
