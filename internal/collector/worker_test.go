package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/store"
	"codeberg.org/mutker/vramwatch/internal/vram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	mu       sync.Mutex
	failures int
	calls    int
	block    chan struct{}
}

func (f *stubFetcher) Fetch(context.Context) (*vram.Payload, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, context.DeadlineExceeded
	}

	return &vram.Payload{TotalBytes: 1000, UsedBytes: 250}, nil
}

type recordingCommitter struct {
	mu      sync.Mutex
	commits []string
}

func (c *recordingCommitter) Commit(_ context.Context, nodeID string, _ *vram.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, nodeID)

	return nil
}

func (c *recordingCommitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.commits)
}

func (c *recordingCommitter) first() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.commits) == 0 {
		return ""
	}

	return c.commits[0]
}

func testNode() store.Node {
	return store.Node{ID: "node-1", Name: "gpu0", Host: "10.0.0.5", Port: 6767, Enabled: true}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met within deadline")
}

func TestWorkerSleepBackoff(t *testing.T) {
	w := NewWorker(testNode(), &stubFetcher{}, &recordingCommitter{},
		Config{Interval: 5 * time.Second}, logger.Default())

	w.errorCount.Store(5)
	assert.Equal(t, 5*time.Second, w.sleepDuration(),
		"Expected normal interval at the failure threshold")

	w.errorCount.Store(6)
	assert.Equal(t, 10*time.Second, w.sleepDuration(),
		"Expected doubled interval past the failure threshold")

	w.errorCount.Store(100)
	assert.Equal(t, 10*time.Second, w.sleepDuration(),
		"Expected backoff independent of failure count")

	wide := NewWorker(testNode(), &stubFetcher{}, &recordingCommitter{},
		Config{Interval: 45 * time.Second}, logger.Default())
	wide.errorCount.Store(6)
	assert.Equal(t, 60*time.Second, wide.sleepDuration(),
		"Expected backoff capped at one minute")
}

func TestWorkerRecoversAfterFailures(t *testing.T) {
	committer := &recordingCommitter{}
	fetcher := &stubFetcher{failures: 3}
	w := NewWorker(testNode(), fetcher, committer,
		Config{Interval: 5 * time.Millisecond, GracePeriod: time.Second}, logger.Default())

	w.Start()
	defer w.Stop()

	waitFor(t, func() bool { return committer.count() >= 2 })

	assert.Zero(t, w.ErrorCount(), "Expected error count reset after a good cycle")
	assert.GreaterOrEqual(t, w.SnapshotCount(), int64(2))
	assert.Equal(t, "node-1", committer.first())
}

func TestWorkerNeverSelfTerminates(t *testing.T) {
	fetcher := &stubFetcher{failures: 1 << 30}
	w := NewWorker(testNode(), fetcher, &recordingCommitter{},
		Config{Interval: time.Millisecond, GracePeriod: time.Second}, logger.Default())

	w.Start()
	waitFor(t, func() bool { return w.ErrorCount() > errorThreshold+3 })

	assert.Equal(t, StateRunning, w.State(),
		"Expected worker still running despite persistent failures")
	require.True(t, w.Stop())
	assert.Equal(t, StateStopped, w.State())
}

func TestWorkerStopDrains(t *testing.T) {
	committer := &recordingCommitter{}
	w := NewWorker(testNode(), &stubFetcher{}, committer,
		Config{Interval: time.Hour, GracePeriod: time.Second}, logger.Default())

	w.Start()
	waitFor(t, func() bool { return committer.count() >= 1 })

	assert.True(t, w.Stop(), "Expected stop to drain a sleeping worker immediately")
	assert.Equal(t, StateStopped, w.State())

	// Stopping again is harmless.
	assert.True(t, w.Stop())
}

func TestWorkerStopGraceExpires(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	fetcher := &stubFetcher{block: block}
	w := NewWorker(testNode(), fetcher, &recordingCommitter{},
		Config{Interval: time.Millisecond, GracePeriod: 20 * time.Millisecond}, logger.Default())

	w.Start()
	time.Sleep(10 * time.Millisecond)

	assert.False(t, w.Stop(), "Expected stop to abandon a worker stuck in fetch")
}

func TestWorkerStartIdempotent(t *testing.T) {
	committer := &recordingCommitter{}
	w := NewWorker(testNode(), &stubFetcher{}, committer,
		Config{Interval: time.Hour, GracePeriod: time.Second}, logger.Default())

	w.Start()
	w.Start()
	waitFor(t, func() bool { return committer.count() >= 1 })

	assert.Equal(t, 1, committer.count(), "Expected a single poll loop")
	require.True(t, w.Stop())

	// A stopped worker stays stopped.
	w.Start()
	assert.Equal(t, StateStopped, w.State())
}
