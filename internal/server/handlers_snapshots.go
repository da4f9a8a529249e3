package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/store"
	"codeberg.org/mutker/vramwatch/internal/vram"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

type submitSnapshotRequest struct {
	NodeID    string     `json:"node_id"`
	Timestamp *time.Time `json:"timestamp"`
	vram.Payload
}

type snapshotResponse struct {
	ID                     int64     `json:"id"`
	NodeID                 string    `json:"node_id"`
	Timestamp              time.Time `json:"timestamp"`
	TotalBytes             int64     `json:"total_bytes"`
	UsedBytes              int64     `json:"used_bytes"`
	FreeBytes              int64     `json:"free_bytes"`
	ReservedBytes          int64     `json:"reserved_bytes"`
	UsedPercent            float64   `json:"used_percent"`
	AllocatedBlocks        int64     `json:"allocated_blocks"`
	FreeBlocks             int64     `json:"free_blocks"`
	UtilizedBlocks         int64     `json:"utilized_blocks"`
	AtomicAllocationsBytes int64     `json:"atomic_allocations_bytes"`
	FragmentationRatio     float64   `json:"fragmentation_ratio"`
	NumProcesses           int       `json:"num_processes"`
	NumThreads             int       `json:"num_threads"`
	NumBlocks              int       `json:"num_blocks"`
	KVCacheUtilization     float64   `json:"kv_cache_utilization"`
	MemoryUtilization      float64   `json:"memory_utilization"`
	MemoryFragmentation    float64   `json:"memory_fragmentation"`
}

type snapshotDetailResponse struct {
	snapshotResponse
	VLLMMetrics     string                `json:"vllm_metrics,omitempty"`
	Processes       []vram.Process        `json:"processes"`
	Threads         []vram.Thread         `json:"threads"`
	Blocks          []vram.Block          `json:"blocks"`
	ProfilerMetrics []vram.ProfilerMetric `json:"profiler_metrics"`
}

func toSnapshotResponse(row store.SnapshotRow) snapshotResponse {
	return snapshotResponse{
		ID:                     row.ID,
		NodeID:                 row.NodeID,
		Timestamp:              row.Timestamp,
		TotalBytes:             row.TotalBytes,
		UsedBytes:              row.UsedBytes,
		FreeBytes:              row.FreeBytes,
		ReservedBytes:          row.ReservedBytes,
		UsedPercent:            row.UsedPercent,
		AllocatedBlocks:        row.AllocatedBlocks,
		FreeBlocks:             row.FreeBlocks,
		UtilizedBlocks:         row.UtilizedBlocks,
		AtomicAllocationsBytes: row.AtomicAllocationsBytes,
		FragmentationRatio:     row.FragmentationRatio,
		NumProcesses:           row.NumProcesses,
		NumThreads:             row.NumThreads,
		NumBlocks:              row.NumBlocks,
		KVCacheUtilization:     row.KVCacheUtilization,
		MemoryUtilization:      row.MemoryUtilization,
		MemoryFragmentation:    row.MemoryFragmentation,
	}
}

// parseRangeQuery reads node_id, start, end and hours query parameters.
// start and end are RFC 3339; hours is a shortcut that sets start to
// now minus that many hours.
func parseRangeQuery(r *http.Request) (store.RangeQuery, error) {
	errFactory := errors.New()
	q := store.RangeQuery{NodeID: r.URL.Query().Get("node_id")}

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errFactory.WithMessage(ErrInvalidRequest, "Invalid start time, expected RFC 3339")
		}
		q.Start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, errFactory.WithMessage(ErrInvalidRequest, "Invalid end time, expected RFC 3339")
		}
		q.End = t
	}
	if v := r.URL.Query().Get("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return q, errFactory.WithMessage(ErrInvalidRequest, "Invalid hours value")
		}
		q.Start = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}

	return q, nil
}

// handleSubmitSnapshot ingests a pushed sample. It runs the same derivation
// and storage path as the poll workers, so pushed and pulled snapshots are
// indistinguishable once stored.
func (s *Server) handleSubmitSnapshot(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	var req submitSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, errFactory.Wrap(ErrInvalidRequest, err))
		return
	}
	if req.NodeID == "" {
		writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest, "node_id is required"))
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	id, err := s.store.InsertSnapshot(r.Context(), req.NodeID, vram.NewSnapshot(&req.Payload, ts))
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	q, err := parseRangeQuery(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxPageSize {
			writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest, "Invalid limit"))
			return
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest, "Invalid offset"))
			return
		}
	}

	rows, err := s.store.ListSnapshots(r.Context(), limit, offset, q)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := make([]snapshotResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, toSnapshotResponse(row))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.LatestSnapshot(r.Context(), r.URL.Query().Get("node_id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotResponse(*row))
}

func (s *Server) handleSnapshotDetail(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest, "Invalid snapshot id"))
		return
	}

	detail, err := s.store.SnapshotDetail(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshotDetailResponse{
		snapshotResponse: toSnapshotResponse(detail.SnapshotRow),
		VLLMMetrics:      detail.VLLMMetrics,
		Processes:        detail.Processes,
		Threads:          detail.Threads,
		Blocks:           detail.Blocks,
		ProfilerMetrics:  detail.ProfilerMetrics,
	})
}

func (s *Server) handlePurgeSnapshots(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	days, err := strconv.Atoi(r.URL.Query().Get("older_than_days"))
	if err != nil || days <= 0 {
		writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest,
			"older_than_days is required and must be a positive integer"))
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := s.store.PurgeSnapshotsBefore(r.Context(), cutoff)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
