package collector

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/store"
)

// Worker polls one node's allocator endpoint on a fixed interval and commits
// every sample it obtains. A worker never gives up on its node: consecutive
// failures only stretch the sleep between attempts, they never terminate the
// loop. Only Stop ends a worker.
type Worker struct {
	node      store.Node
	fetcher   Fetcher
	committer Committer
	interval  time.Duration
	grace     time.Duration
	log       logger.Logger

	state         atomic.Int32
	errorCount    atomic.Int64
	snapshotCount atomic.Int64

	stop chan struct{}
	done chan struct{}
}

func NewWorker(node store.Node, fetcher Fetcher, committer Committer,
	cfg Config, log logger.Logger,
) *Worker {
	return &Worker{
		node:      node,
		fetcher:   fetcher,
		committer: committer,
		interval:  cfg.Interval,
		grace:     cfg.gracePeriod(),
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (w *Worker) Node() store.Node { return w.node }

func (w *Worker) State() State {
	return State(w.state.Load())
}

// ErrorCount returns the consecutive failures since the last good cycle.
func (w *Worker) ErrorCount() int64 { return w.errorCount.Load() }

// SnapshotCount returns the total snapshots committed over the worker's life.
func (w *Worker) SnapshotCount() int64 { return w.snapshotCount.Load() }

// Start launches the poll loop. It is a no-op unless the worker is idle.
func (w *Worker) Start() {
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return
	}

	w.log.Info().
		Str("node", w.node.Name).
		Str("endpoint", w.node.Host).
		Int("port", w.node.Port).
		Dur("interval", w.interval).
		Msg("Starting collector worker")

	go w.run()
}

// Stop signals the worker and waits up to the grace period for the current
// cycle to drain. It returns false if the worker was abandoned mid-cycle;
// a commit landing after that is harmless since the store serializes writes.
func (w *Worker) Stop() bool {
	if w.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		return true
	}
	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		// Already stopping or stopped; just wait out the grace period.
		select {
		case <-w.done:
			return true
		case <-time.After(w.grace):
			return false
		}
	}

	close(w.stop)

	select {
	case <-w.done:
		w.log.Info().
			Str("node", w.node.Name).
			Int64("snapshots", w.snapshotCount.Load()).
			Msg("Collector worker stopped")
		return true
	case <-time.After(w.grace):
		w.log.ErrorWithCode(errors.New().WithData(ErrWorkerStuck, w.node.Name)).
			Msg("Abandoning collector worker")
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))

	for {
		w.cycle()

		timer := time.NewTimer(w.sleepDuration())
		select {
		case <-w.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Worker) cycle() {
	ctx := context.Background()

	payload, err := w.fetcher.Fetch(ctx)
	if err != nil {
		count := w.errorCount.Add(1)
		fetchErrors.WithLabelValues(w.node.Name).Inc()
		w.log.Warn().
			Err(err).
			Str("node", w.node.Name).
			Int64("error_count", count).
			Msg("Fetch failed")
		return
	}

	if err := w.committer.Commit(ctx, w.node.ID, payload); err != nil {
		count := w.errorCount.Add(1)
		commitErrors.WithLabelValues(w.node.Name).Inc()
		w.log.Warn().
			Err(err).
			Str("node", w.node.Name).
			Int64("error_count", count).
			Msg("Commit failed")
		return
	}

	w.errorCount.Store(0)
	w.snapshotCount.Add(1)
	snapshotsCommitted.WithLabelValues(w.node.Name).Inc()
}

// sleepDuration is the configured interval, doubled and capped at one minute
// once the node has failed more than errorThreshold cycles in a row.
func (w *Worker) sleepDuration() time.Duration {
	if w.errorCount.Load() <= errorThreshold {
		return w.interval
	}

	backoff := w.interval * 2
	if backoff > maxBackoffSleep {
		backoff = maxBackoffSleep
	}

	return backoff
}
