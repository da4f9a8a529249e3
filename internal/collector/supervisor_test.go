package collector

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFactory struct {
	mu    sync.Mutex
	built []string
}

func (f *recordingFactory) build(node store.Node) (Fetcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, node.Host)

	return &stubFetcher{}, nil
}

func (f *recordingFactory) hosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.built...)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *recordingFactory, *recordingCommitter) {
	t.Helper()

	factory := &recordingFactory{}
	committer := &recordingCommitter{}
	sup, err := NewSupervisor(Config{
		Interval:    time.Hour,
		GracePeriod: time.Second,
	}, committer, factory.build, logger.Default())
	require.NoError(t, err)
	t.Cleanup(sup.StopAll)

	return sup, factory, committer
}

func TestSupervisorStartStop(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	node := testNode()

	require.NoError(t, sup.Start(node))
	assert.True(t, sup.HasWorker(node.ID))
	assert.Equal(t, 1, sup.WorkerCount())
	assert.Equal(t, StateRunning, sup.WorkerState(node.ID))

	// Starting an already-collected node changes nothing.
	require.NoError(t, sup.Start(node))
	assert.Equal(t, 1, sup.WorkerCount())

	assert.True(t, sup.Stop(node.ID))
	assert.False(t, sup.HasWorker(node.ID))
	assert.False(t, sup.Stop(node.ID), "Expected stop of unknown node to report false")
}

func TestSupervisorInvalidInterval(t *testing.T) {
	_, err := NewSupervisor(Config{Interval: 0}, &recordingCommitter{},
		(&recordingFactory{}).build, logger.Default())
	require.Error(t, err)
}

func TestSupervisorRestartRebuildsFetcher(t *testing.T) {
	sup, factory, _ := newTestSupervisor(t)
	node := testNode()

	require.NoError(t, sup.Start(node))

	node.Host = "10.0.0.9"
	require.NoError(t, sup.Restart(node))

	assert.Equal(t, 1, sup.WorkerCount())
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.9"}, factory.hosts())
}

func TestSupervisorReconcile(t *testing.T) {
	sup, factory, _ := newTestSupervisor(t)

	gpu0 := store.Node{ID: "n0", Name: "gpu0", Host: "10.0.0.5", Port: 6767, Enabled: true}
	gpu1 := store.Node{ID: "n1", Name: "gpu1", Host: "10.0.0.6", Port: 6767, Enabled: true}

	sup.Reconcile([]store.Node{gpu0, gpu1})
	assert.Equal(t, 2, sup.WorkerCount())

	// gpu0 drops out, gpu1 moves to a new host.
	gpu1.Host = "10.0.0.7"
	sup.Reconcile([]store.Node{gpu1})
	assert.Equal(t, 1, sup.WorkerCount())
	assert.False(t, sup.HasWorker("n0"))
	assert.True(t, sup.HasWorker("n1"))
	assert.Contains(t, factory.hosts(), "10.0.0.7")

	// Unchanged desired state is a no-op.
	before := len(factory.hosts())
	sup.Reconcile([]store.Node{gpu1})
	assert.Len(t, factory.hosts(), before)
}

func TestSupervisorEnableDisableCycle(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	gpu0 := store.Node{ID: "n0", Name: "gpu0", Host: "10.0.0.5", Port: 6767, Enabled: true}

	sup.Reconcile([]store.Node{gpu0})
	assert.True(t, sup.HasWorker("n0"))

	sup.Reconcile(nil)
	assert.False(t, sup.HasWorker("n0"))
	assert.Zero(t, sup.WorkerCount())

	sup.Reconcile([]store.Node{gpu0})
	assert.True(t, sup.HasWorker("n0"))
	assert.Equal(t, StateRunning, sup.WorkerState("n0"))
}

func TestSupervisorStopAll(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)

	for _, node := range []store.Node{
		{ID: "n0", Name: "gpu0", Host: "10.0.0.5", Port: 6767},
		{ID: "n1", Name: "gpu1", Host: "10.0.0.6", Port: 6767},
		{ID: "n2", Name: "gpu2", Host: "10.0.0.7", Port: 6767},
	} {
		require.NoError(t, sup.Start(node))
	}
	require.Equal(t, 3, sup.WorkerCount())

	sup.StopAll()
	assert.Zero(t, sup.WorkerCount())
}
