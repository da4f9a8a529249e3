package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	snapshotsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vramwatch_snapshots_committed_total",
		Help: "Snapshots successfully committed, per node.",
	}, []string{"node"})

	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vramwatch_fetch_errors_total",
		Help: "Failed fetch attempts against node allocator endpoints, per node.",
	}, []string{"node"})

	commitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vramwatch_commit_errors_total",
		Help: "Failed snapshot commits, per node.",
	}, []string{"node"})

	workersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vramwatch_workers_active",
		Help: "Number of node workers currently supervised.",
	})
)
