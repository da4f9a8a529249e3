// Package timeseries turns stored snapshots into metric series for the API:
// named metric extraction, interval downsampling, and range summaries.
package timeseries

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/store"
)

// Point is one sample of a named metric.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ProcessSeries is the per-process slice of a range's process samples.
type ProcessSeries struct {
	PID     int                   `json:"pid"`
	Name    string                `json:"name"`
	Samples []store.ProcessSample `json:"samples"`
}

type extractor func(*store.SnapshotRow) float64

// metricExtractors maps queryable metric names to snapshot fields. Derived
// metrics are read back as stored, not recomputed.
var metricExtractors = map[string]extractor{
	"used_bytes":           func(s *store.SnapshotRow) float64 { return float64(s.UsedBytes) },
	"reserved_bytes":       func(s *store.SnapshotRow) float64 { return float64(s.ReservedBytes) },
	"used_percent":         func(s *store.SnapshotRow) float64 { return s.UsedPercent },
	"fragmentation_ratio":  func(s *store.SnapshotRow) float64 { return s.FragmentationRatio },
	"num_processes":        func(s *store.SnapshotRow) float64 { return float64(s.NumProcesses) },
	"num_threads":          func(s *store.SnapshotRow) float64 { return float64(s.NumThreads) },
	"allocated_blocks":     func(s *store.SnapshotRow) float64 { return float64(s.AllocatedBlocks) },
	"utilized_blocks":      func(s *store.SnapshotRow) float64 { return float64(s.UtilizedBlocks) },
	"free_blocks":          func(s *store.SnapshotRow) float64 { return float64(s.FreeBlocks) },
	"kv_cache_utilization": func(s *store.SnapshotRow) float64 { return s.KVCacheUtilization },
	"memory_utilization":   func(s *store.SnapshotRow) float64 { return s.MemoryUtilization },
	"memory_fragmentation": func(s *store.SnapshotRow) float64 { return s.MemoryFragmentation },
}

// SupportedMetrics lists the queryable metric names, sorted.
func SupportedMetrics() []string {
	names := make([]string, 0, len(metricExtractors))
	for name := range metricExtractors {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Service answers metric queries against the snapshot store.
type Service struct {
	reader store.SnapshotReader
}

func NewService(reader store.SnapshotReader) *Service {
	return &Service{reader: reader}
}

// Range returns the named metric over the query range, oldest first,
// downsampled to at most one point per interval. A zero interval returns
// every stored point. An empty range yields an empty series, not an error.
func (s *Service) Range(ctx context.Context, metric string, q store.RangeQuery,
	interval time.Duration,
) ([]Point, error) {
	extract, ok := metricExtractors[metric]
	if !ok {
		return nil, errors.New().WithMessage(ErrUnknownMetric,
			fmt.Sprintf("Unknown metric %q, supported: %v", metric, SupportedMetrics()))
	}

	rows, err := s.reader.SnapshotsInRange(ctx, q)
	if err != nil {
		return nil, err
	}

	points := make([]Point, 0, len(rows))
	for i := range rows {
		points = append(points, Point{
			Timestamp: rows[i].Timestamp,
			Value:     extract(&rows[i]),
		})
	}

	return Downsample(points, interval), nil
}

// Downsample thins an ascending series to at most one point per interval.
// The first point is always kept; each later point is kept only once it is
// at least interval after the last kept point.
func Downsample(points []Point, interval time.Duration) []Point {
	if interval <= 0 || len(points) == 0 {
		return points
	}

	kept := points[:1]
	last := points[0].Timestamp
	for _, p := range points[1:] {
		if p.Timestamp.Sub(last) >= interval {
			kept = append(kept, p)
			last = p.Timestamp
		}
	}

	return kept
}

// Latest returns the newest snapshot, optionally scoped to one node.
func (s *Service) Latest(ctx context.Context, nodeID string) (*store.SnapshotRow, error) {
	return s.reader.LatestSnapshot(ctx, nodeID)
}

// Summary aggregates the range. A range with no snapshots is an error here,
// unlike Range, because there is no meaningful zero value for averages.
func (s *Service) Summary(ctx context.Context, q store.RangeQuery) (*store.Summary, error) {
	summary, err := s.reader.Summarize(ctx, q)
	if err != nil {
		return nil, err
	}
	if summary.TotalSnapshots == 0 {
		return nil, errors.New().New(ErrNoData)
	}

	return summary, nil
}

// ProcessHistory groups the range's process samples into one series per PID,
// ordered by first appearance.
func (s *Service) ProcessHistory(ctx context.Context, q store.RangeQuery) ([]ProcessSeries, error) {
	samples, err := s.reader.ProcessSamples(ctx, q)
	if err != nil {
		return nil, err
	}

	index := make(map[int]int)
	var series []ProcessSeries
	for _, sample := range samples {
		i, ok := index[sample.PID]
		if !ok {
			i = len(series)
			index[sample.PID] = i
			series = append(series, ProcessSeries{PID: sample.PID, Name: sample.Name})
		}
		series[i].Samples = append(series[i].Samples, sample)
	}

	return series, nil
}
