package vram_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"codeberg.org/mutker/vramwatch/internal/vram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, srv *httptest.Server) *vram.Client {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client, err := vram.NewClient(u.Hostname(), port)
	require.NoError(t, err)

	return client
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vram", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"total_bytes": 1000,
			"used_bytes": 250,
			"allocated_blocks": 100,
			"utilized_blocks": 25,
			"free_blocks": 75,
			"fragmentation_ratio": 0.75,
			"processes": [{"pid": 42, "name": "vllm-worker", "used_bytes": 100, "reserved_bytes": 120}],
			"threads": [{"thread_id": 7, "allocated_bytes": 50, "state": "active"}],
			"blocks": [{"block_id": 0, "size": 8192, "type": "kv_cache", "allocated": true, "utilized": false}],
			"nsight_metrics": {"42": {"available": true, "occupancy": 0.5}},
			"vllm_metrics": "# HELP ..."
		}`))
	}))
	defer srv.Close()

	payload, err := clientFor(t, srv).Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1000), payload.TotalBytes)
	assert.Equal(t, int64(25), payload.UtilizedBlocks)
	require.Len(t, payload.Processes, 1)
	assert.Equal(t, 42, payload.Processes[0].PID)
	require.Len(t, payload.Threads, 1)
	assert.Equal(t, "active", payload.Threads[0].State)
	require.Len(t, payload.Blocks, 1)
	assert.True(t, payload.Blocks[0].Allocated)
	require.Contains(t, payload.NsightMetrics, "42")
	assert.True(t, payload.NsightMetrics["42"].Available)
	require.NotNil(t, payload.NsightMetrics["42"].Occupancy)
	assert.InDelta(t, 0.5, *payload.NsightMetrics["42"].Occupancy, 1e-9)
}

func TestFetchMissingFieldsDefaultToZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	payload, err := clientFor(t, srv).Fetch(context.Background())
	require.NoError(t, err)

	assert.Zero(t, payload.TotalBytes)
	assert.Zero(t, payload.UsedPercent)
	assert.Empty(t, payload.Processes)
	assert.Empty(t, payload.VLLMMetrics)
}

func TestFetchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := clientFor(t, srv).Fetch(context.Background())
	require.Error(t, err)
}

func TestFetchMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"total_bytes": `))
	}))
	defer srv.Close()

	_, err := clientFor(t, srv).Fetch(context.Background())
	require.Error(t, err)
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	_, err := clientFor(t, srv).Fetch(context.Background())
	require.Error(t, err)
}
