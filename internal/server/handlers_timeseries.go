package server

import (
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/timeseries"
)

type timeseriesResponse struct {
	Metric   string             `json:"metric"`
	NodeID   string             `json:"node_id,omitempty"`
	Interval int                `json:"interval_seconds,omitempty"`
	Points   []timeseries.Point `json:"points"`
}

type statsResponse struct {
	TotalSnapshots   int64      `json:"total_snapshots"`
	TimeRangeStart   *time.Time `json:"time_range_start,omitempty"`
	TimeRangeEnd     *time.Time `json:"time_range_end,omitempty"`
	AvgUsedBytes     float64    `json:"avg_used_bytes"`
	MaxUsedBytes     int64      `json:"max_used_bytes"`
	MinUsedBytes     int64      `json:"min_used_bytes"`
	AvgUsedPercent   float64    `json:"avg_used_percent"`
	AvgFragmentation float64    `json:"avg_fragmentation"`
	MaxFragmentation float64    `json:"max_fragmentation"`
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	errFactory := errors.New()

	q, err := parseRangeQuery(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	intervalSec := 0
	if v := r.URL.Query().Get("interval"); v != "" {
		intervalSec, err = strconv.Atoi(v)
		if err != nil || intervalSec < 0 {
			writeError(w, s.log, errFactory.WithMessage(ErrInvalidRequest, "Invalid interval"))
			return
		}
	}

	metric := r.PathValue("metric")
	points, err := s.series.Range(r.Context(), metric, q, time.Duration(intervalSec)*time.Second)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, http.StatusOK, timeseriesResponse{
		Metric:   metric,
		NodeID:   q.NodeID,
		Interval: intervalSec,
		Points:   points,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q, err := parseRangeQuery(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	summary, err := s.series.Summary(r.Context(), q)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	resp := statsResponse{
		TotalSnapshots:   summary.TotalSnapshots,
		AvgUsedBytes:     summary.AvgUsedBytes,
		MaxUsedBytes:     summary.MaxUsedBytes,
		MinUsedBytes:     summary.MinUsedBytes,
		AvgUsedPercent:   summary.AvgUsedPercent,
		AvgFragmentation: summary.AvgFragmentation,
		MaxFragmentation: summary.MaxFragmentation,
	}
	if !summary.TimeRangeStart.IsZero() {
		resp.TimeRangeStart = &summary.TimeRangeStart
	}
	if !summary.TimeRangeEnd.IsZero() {
		resp.TimeRangeEnd = &summary.TimeRangeEnd
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	q, err := parseRangeQuery(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	series, err := s.series.ProcessHistory(r.Context(), q)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if series == nil {
		series = []timeseries.ProcessSeries{}
	}

	writeJSON(w, http.StatusOK, series)
}
