package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/server"
	"codeberg.org/mutker/vramwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	mu        sync.Mutex
	started   []string
	stopped   []string
	restarted []string
}

func (f *fakeCollector) Start(node store.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, node.ID)
	return nil
}

func (f *fakeCollector) Stop(nodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, nodeID)
	return true
}

func (f *fakeCollector) Restart(node store.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted = append(f.restarted, node.ID)
	return nil
}

func (f *fakeCollector) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeCollector) stoppedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func (f *fakeCollector) restartedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restarted...)
}

type testAPI struct {
	srv       *httptest.Server
	collector *fakeCollector
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	repo, err := store.NewRepository(store.Config{
		DBPath: filepath.Join(t.TempDir(), "vramwatch.db"),
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	collector := &fakeCollector{}
	s, err := server.New(server.Config{Port: 8001}, repo, collector, logger.Default())
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, collector: collector}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, raw
}

func (a *testAPI) createNode(t *testing.T, name string) map[string]any {
	t.Helper()

	status, raw := a.do(t, http.MethodPost, "/api/nodes", map[string]any{
		"name": name, "host": "10.0.0.5", "port": 6767,
	})
	require.Equal(t, http.StatusCreated, status, string(raw))

	var node map[string]any
	require.NoError(t, json.Unmarshal(raw, &node))

	return node
}

func testPayload() map[string]any {
	return map[string]any{
		"total_bytes":         1000,
		"used_bytes":          250,
		"free_bytes":          750,
		"used_percent":        25.0,
		"allocated_blocks":    100,
		"utilized_blocks":     25,
		"free_blocks":         75,
		"fragmentation_ratio": 0.5,
		"processes": []map[string]any{
			{"pid": 42, "name": "vllm-worker", "used_bytes": 250},
		},
	}
}

func (a *testAPI) submitSnapshot(t *testing.T, nodeID string, ts time.Time) {
	t.Helper()

	body := testPayload()
	body["node_id"] = nodeID
	body["timestamp"] = ts.Format(time.RFC3339)

	status, raw := a.do(t, http.MethodPost, "/api/snapshots", body)
	require.Equal(t, http.StatusCreated, status, string(raw))
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	status, raw := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestNodeLifecycle(t *testing.T) {
	api := newTestAPI(t)

	node := api.createNode(t, "gpu0")
	id := node["id"].(string)
	assert.Equal(t, true, node["enabled"])
	assert.Nil(t, node["last_seen"])
	assert.Contains(t, api.collector.startedIDs(), id, "Expected collector started on create")

	status, raw := api.do(t, http.MethodGet, "/api/nodes", nil)
	require.Equal(t, http.StatusOK, status)
	var nodes []map[string]any
	require.NoError(t, json.Unmarshal(raw, &nodes))
	assert.Len(t, nodes, 1)

	// Disable stops the worker.
	status, _ = api.do(t, http.MethodPut, "/api/nodes/"+id, map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, api.collector.stoppedIDs(), id)

	// Re-enable starts it again.
	status, _ = api.do(t, http.MethodPut, "/api/nodes/"+id, map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, api.collector.startedIDs(), 2)

	// Endpoint change while enabled restarts.
	status, _ = api.do(t, http.MethodPut, "/api/nodes/"+id, map[string]any{"host": "10.0.0.9"})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, api.collector.restartedIDs(), id)

	// Pure rename leaves the worker alone.
	before := len(api.collector.restartedIDs())
	status, _ = api.do(t, http.MethodPut, "/api/nodes/"+id, map[string]any{"name": "gpu0-renamed"})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, api.collector.restartedIDs(), before)

	status, _ = api.do(t, http.MethodDelete, "/api/nodes/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = api.do(t, http.MethodGet, "/api/nodes/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateNodeValidation(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(t, http.MethodPost, "/api/nodes", map[string]any{"name": "gpu0"})
	assert.Equal(t, http.StatusBadRequest, status, "Expected missing host rejected")

	status, _ = api.do(t, http.MethodPost, "/api/nodes", map[string]any{
		"name": "gpu0", "host": "10.0.0.5", "port": 70000,
	})
	assert.Equal(t, http.StatusBadRequest, status, "Expected out-of-range port rejected")

	api.createNode(t, "gpu0")
	status, _ = api.do(t, http.MethodPost, "/api/nodes", map[string]any{
		"name": "gpu0", "host": "10.0.0.6", "port": 6767,
	})
	assert.Equal(t, http.StatusConflict, status, "Expected duplicate name rejected")
}

func TestSnapshotIngestAndQuery(t *testing.T) {
	api := newTestAPI(t)

	node := api.createNode(t, "gpu0")
	id := node["id"].(string)

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Minute)
	api.submitSnapshot(t, id, base)
	api.submitSnapshot(t, id, base.Add(time.Second))

	status, raw := api.do(t, http.MethodGet, "/api/snapshots/latest?node_id="+id, nil)
	require.Equal(t, http.StatusOK, status)
	var latest map[string]any
	require.NoError(t, json.Unmarshal(raw, &latest))
	assert.InDelta(t, 25.0, latest["kv_cache_utilization"], 1e-9,
		"Expected derived metrics computed on ingest")

	snapID := int64(latest["id"].(float64))
	status, raw = api.do(t, http.MethodGet, fmt.Sprintf("/api/snapshots/%d", snapID), nil)
	require.Equal(t, http.StatusOK, status)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(raw, &detail))
	assert.Len(t, detail["processes"], 1)

	// Committing a snapshot advances the node's last_seen.
	status, raw = api.do(t, http.MethodGet, "/api/nodes/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.NotNil(t, got["last_seen"])
}

func TestSubmitSnapshotUnknownNode(t *testing.T) {
	api := newTestAPI(t)

	body := testPayload()
	body["node_id"] = "no-such-node"
	status, _ := api.do(t, http.MethodPost, "/api/snapshots", body)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTimeseriesEndpoint(t *testing.T) {
	api := newTestAPI(t)

	node := api.createNode(t, "gpu0")
	id := node["id"].(string)

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Minute)
	for i := 0; i < 3; i++ {
		api.submitSnapshot(t, id, base.Add(time.Duration(i)*time.Second))
	}

	status, raw := api.do(t, http.MethodGet, "/api/timeseries/used_bytes?node_id="+id, nil)
	require.Equal(t, http.StatusOK, status)
	var resp struct {
		Metric string `json:"metric"`
		Points []struct {
			Value float64 `json:"value"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "used_bytes", resp.Metric)
	require.Len(t, resp.Points, 3)
	assert.Equal(t, 250.0, resp.Points[0].Value)

	// interval=2 keeps the first point then every second one.
	status, raw = api.do(t, http.MethodGet,
		"/api/timeseries/used_bytes?node_id="+id+"&interval=2", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Len(t, resp.Points, 2)

	status, raw = api.do(t, http.MethodGet, "/api/timeseries/gpu_temperature", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(raw), "used_bytes", "Expected supported metrics listed")
}

func TestStatsEndpoint(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(t, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusNotFound, status, "Expected no-data range to 404")

	node := api.createNode(t, "gpu0")
	id := node["id"].(string)
	api.submitSnapshot(t, id, time.Now().UTC().Add(-time.Minute))

	status, raw := api.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, status)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 1.0, stats["total_snapshots"])
	assert.Equal(t, 250.0, stats["max_used_bytes"])
}

func TestProcessesEndpoint(t *testing.T) {
	api := newTestAPI(t)

	node := api.createNode(t, "gpu0")
	id := node["id"].(string)
	api.submitSnapshot(t, id, time.Now().UTC().Add(-time.Minute))

	status, raw := api.do(t, http.MethodGet, "/api/processes?node_id="+id, nil)
	require.Equal(t, http.StatusOK, status)
	var series []struct {
		PID     int              `json:"pid"`
		Name    string           `json:"name"`
		Samples []map[string]any `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(raw, &series))
	require.Len(t, series, 1)
	assert.Equal(t, 42, series[0].PID)
	assert.Equal(t, "vllm-worker", series[0].Name)
	assert.Len(t, series[0].Samples, 1)
}

func TestPurgeSnapshots(t *testing.T) {
	api := newTestAPI(t)

	node := api.createNode(t, "gpu0")
	id := node["id"].(string)
	api.submitSnapshot(t, id, time.Now().UTC().AddDate(0, 0, -10))
	api.submitSnapshot(t, id, time.Now().UTC().Add(-time.Minute))

	status, _ := api.do(t, http.MethodDelete, "/api/snapshots", nil)
	assert.Equal(t, http.StatusBadRequest, status, "Expected missing older_than_days rejected")

	status, raw := api.do(t, http.MethodDelete, "/api/snapshots?older_than_days=7", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"deleted":1}`, string(raw))
}

func TestRequestIDHeader(t *testing.T) {
	api := newTestAPI(t)

	resp, err := http.Get(api.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
