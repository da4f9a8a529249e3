package collector

import (
	"sync"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/store"
)

// Supervisor owns the set of node workers. All map access happens under one
// mutex, so there is never more than one worker per node id regardless of
// how lifecycle calls interleave.
type Supervisor struct {
	mu         sync.Mutex
	workers    map[string]*Worker
	cfg        Config
	committer  Committer
	newFetcher FetcherFactory
	log        logger.Logger
}

func NewSupervisor(cfg Config, committer Committer, newFetcher FetcherFactory,
	log logger.Logger,
) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Supervisor{
		workers:    make(map[string]*Worker),
		cfg:        cfg,
		committer:  committer,
		newFetcher: newFetcher,
		log:        log,
	}, nil
}

// Start launches a worker for the node. Starting a node that already has a
// worker is a no-op.
func (s *Supervisor) Start(node store.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.startLocked(node)
}

func (s *Supervisor) startLocked(node store.Node) error {
	if _, ok := s.workers[node.ID]; ok {
		return nil
	}

	fetcher, err := s.newFetcher(node)
	if err != nil {
		return errors.New().Wrap(ErrFetcherInit, err)
	}

	worker := NewWorker(node, fetcher, s.committer, s.cfg, s.log)
	s.workers[node.ID] = worker
	workersActive.Set(float64(len(s.workers)))
	worker.Start()

	return nil
}

// Stop shuts down the node's worker, if any, and reports whether one existed.
// The worker is dropped from the set even when it fails to drain in time.
func (s *Supervisor) Stop(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopLocked(nodeID)
}

func (s *Supervisor) stopLocked(nodeID string) bool {
	worker, ok := s.workers[nodeID]
	if !ok {
		return false
	}

	delete(s.workers, nodeID)
	workersActive.Set(float64(len(s.workers)))
	worker.Stop()

	return true
}

// Restart replaces the node's worker with one built from the given node
// record. Used when a node's endpoint changes while collection is active.
func (s *Supervisor) Restart(node store.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(node.ID)

	return s.startLocked(node)
}

// Reconcile drives the worker set toward the desired node list: it starts
// workers for new nodes, stops workers whose nodes are gone, and restarts
// workers whose endpoint no longer matches.
func (s *Supervisor) Reconcile(desired []store.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]store.Node, len(desired))
	for _, node := range desired {
		want[node.ID] = node
	}

	for id, worker := range s.workers {
		node, ok := want[id]
		if !ok {
			s.log.Info().Str("node", worker.node.Name).Msg("Node removed, stopping worker")
			s.stopLocked(id)
			continue
		}
		if node.Host != worker.node.Host || node.Port != worker.node.Port {
			s.log.Info().Str("node", node.Name).Msg("Node endpoint changed, restarting worker")
			s.stopLocked(id)
			if err := s.startLocked(node); err != nil {
				s.log.Error().Err(err).Str("node", node.Name).Msg("Failed to restart worker")
			}
		}
	}

	for id, node := range want {
		if _, ok := s.workers[id]; ok {
			continue
		}
		if err := s.startLocked(node); err != nil {
			s.log.Error().Err(err).Str("node", node.Name).Msg("Failed to start worker")
		}
	}
}

// StopAll shuts down every worker. Used on daemon shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.workers {
		s.stopLocked(id)
	}
}

func (s *Supervisor) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.workers)
}

func (s *Supervisor) HasWorker(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.workers[nodeID]

	return ok
}

// WorkerState reports the state of the node's worker, or StateStopped when
// the node has none.
func (s *Supervisor) WorkerState(nodeID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker, ok := s.workers[nodeID]
	if !ok {
		return StateStopped
	}

	return worker.State()
}
