// Package server exposes the monitoring API: node registration, snapshot
// ingestion and queries, and metric timeseries, plus health and metrics
// endpoints.
package server

import (
	"context"
	"net/http"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/store"
	"codeberg.org/mutker/vramwatch/internal/timeseries"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// CollectorControl is the slice of the supervisor the node handlers drive.
type CollectorControl interface {
	Start(node store.Node) error
	Stop(nodeID string) bool
	Restart(node store.Node) error
}

type Server struct {
	cfg       Config
	store     store.Store
	series    *timeseries.Service
	collector CollectorControl
	log       logger.Logger
	http      *http.Server
}

func New(cfg Config, st store.Store, collector CollectorControl, log logger.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		store:     st,
		series:    timeseries.NewService(st),
		collector: collector,
		log:       log,
	}
	s.http = &http.Server{
		Addr:         cfg.addr(),
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	return s, nil
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/nodes", s.handleCreateNode)
	mux.HandleFunc("GET /api/nodes", s.handleListNodes)
	mux.HandleFunc("GET /api/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("PUT /api/nodes/{id}", s.handleUpdateNode)
	mux.HandleFunc("DELETE /api/nodes/{id}", s.handleDeleteNode)

	mux.HandleFunc("POST /api/snapshots", s.handleSubmitSnapshot)
	mux.HandleFunc("GET /api/snapshots", s.handleListSnapshots)
	mux.HandleFunc("DELETE /api/snapshots", s.handlePurgeSnapshots)
	mux.HandleFunc("GET /api/snapshots/latest", s.handleLatestSnapshot)
	mux.HandleFunc("GET /api/snapshots/{id}", s.handleSnapshotDetail)

	mux.HandleFunc("GET /api/timeseries/{metric}", s.handleTimeseries)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/processes", s.handleProcesses)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	limit, burst := s.cfg.rateLimit()

	return chain(mux,
		withRequestID,
		withRecovery(s.log),
		withObservability(s.log),
		withRateLimit(rate.NewLimiter(rate.Limit(limit), burst)),
	)
}

// Run serves until the context is canceled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("API server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New().Wrap(ErrServeFailed, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
