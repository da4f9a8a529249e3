package vram

// Payload is one sample of allocator state as served by a node's /vram
// endpoint. Numeric fields default to zero when absent; absent arrays decode
// to nil. Upstream values are stored as reported, including out-of-range ones.
type Payload struct {
	TotalBytes             int64   `json:"total_bytes"`
	UsedBytes              int64   `json:"used_bytes"`
	FreeBytes              int64   `json:"free_bytes"`
	ReservedBytes          int64   `json:"reserved_bytes"`
	UsedPercent            float64 `json:"used_percent"`
	AllocatedBlocks        int64   `json:"allocated_blocks"`
	FreeBlocks             int64   `json:"free_blocks"`
	UtilizedBlocks         int64   `json:"utilized_blocks"`
	AtomicAllocationsBytes int64   `json:"atomic_allocations_bytes"`
	FragmentationRatio     float64 `json:"fragmentation_ratio"`

	Processes []Process `json:"processes"`
	Threads   []Thread  `json:"threads"`
	Blocks    []Block   `json:"blocks"`

	// Profiler metrics keyed by stringified pid. Values may be absent or
	// partial for any process.
	NsightMetrics map[string]NsightMetric `json:"nsight_metrics"`

	// Opaque Prometheus exposition text from the serving runtime.
	VLLMMetrics string `json:"vllm_metrics"`
}

type Process struct {
	PID           int    `json:"pid"`
	Name          string `json:"name"`
	UsedBytes     int64  `json:"used_bytes"`
	ReservedBytes int64  `json:"reserved_bytes"`
}

type Thread struct {
	ThreadID       int    `json:"thread_id"`
	AllocatedBytes int64  `json:"allocated_bytes"`
	State          string `json:"state"`
}

// Block ids are node-local and may refer to a different underlying
// allocation on a later poll; no cross-snapshot identity is assumed.
type Block struct {
	BlockID   int    `json:"block_id"`
	Size      int64  `json:"size"`
	Type      string `json:"type"`
	Allocated bool   `json:"allocated"`
	Utilized  bool   `json:"utilized"`
}

type NsightMetric struct {
	Available         bool     `json:"available"`
	AtomicOperations  *int64   `json:"atomic_operations"`
	ThreadsPerBlock   *int64   `json:"threads_per_block"`
	BlocksPerSM       *int64   `json:"blocks_per_sm"`
	SharedMemoryUsage *int64   `json:"shared_memory_usage"`
	Occupancy         *float64 `json:"occupancy"`
}
