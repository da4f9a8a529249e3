package vram

import (
	"sort"
	"strconv"
	"time"
)

// Snapshot is a payload normalized for persistence: derived metrics computed,
// child counts filled in and profiler metrics flattened out of their
// pid-keyed map. Immutable once built.
type Snapshot struct {
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
	Derived                DerivedMetrics
	VLLMMetrics            string

	Processes       []Process
	Threads         []Thread
	Blocks          []Block
	ProfilerMetrics []ProfilerMetric
}

// ProfilerMetric attributes profiler readings to a process within one
// snapshot. PIDs are node-local and carry no identity across snapshots.
type ProfilerMetric struct {
	PID    int          `json:"pid"`
	Metric NsightMetric `json:"metric"`
}

// NewSnapshot normalizes a raw payload into a Snapshot stamped with ts.
// This is the single normalization point shared by the polling path and the
// external submission path. Profiler entries with non-numeric pid keys are
// dropped; everything else is stored as reported.
func NewSnapshot(p *Payload, ts time.Time) *Snapshot {
	s := &Snapshot{
		Timestamp:              ts,
		TotalBytes:             p.TotalBytes,
		UsedBytes:              p.UsedBytes,
		FreeBytes:              p.FreeBytes,
		ReservedBytes:          p.ReservedBytes,
		UsedPercent:            p.UsedPercent,
		AllocatedBlocks:        p.AllocatedBlocks,
		FreeBlocks:             p.FreeBlocks,
		UtilizedBlocks:         p.UtilizedBlocks,
		AtomicAllocationsBytes: p.AtomicAllocationsBytes,
		FragmentationRatio:     p.FragmentationRatio,
		NumProcesses:           len(p.Processes),
		NumThreads:             len(p.Threads),
		NumBlocks:              len(p.Blocks),
		Derived:                Derive(p),
		VLLMMetrics:            p.VLLMMetrics,
		Processes:              p.Processes,
		Threads:                p.Threads,
		Blocks:                 p.Blocks,
	}

	for pidStr, metric := range p.NsightMetrics {
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		s.ProfilerMetrics = append(s.ProfilerMetrics, ProfilerMetric{
			PID:    pid,
			Metric: metric,
		})
	}
	sort.Slice(s.ProfilerMetrics, func(i, j int) bool {
		return s.ProfilerMetrics[i].PID < s.ProfilerMetrics[j].PID
	})

	return s
}
