package mock_test

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"codeberg.org/mutker/vramwatch/internal/mock"
	"codeberg.org/mutker/vramwatch/internal/vram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadInvariants(t *testing.T) {
	g := mock.NewGenerator(1)

	for i := 0; i < 20; i++ {
		p := g.Payload()

		assert.Equal(t, p.TotalBytes, p.UsedBytes+p.FreeBytes)
		assert.Equal(t, int64(256), p.AllocatedBlocks+p.FreeBlocks)
		assert.LessOrEqual(t, p.UtilizedBlocks, p.AllocatedBlocks)
		assert.Len(t, p.Blocks, 256)
		assert.NotEmpty(t, p.Processes)
		assert.Len(t, p.Threads, 2*len(p.Processes))
		assert.Len(t, p.NsightMetrics, len(p.Processes))
		assert.Contains(t, p.VLLMMetrics, "vllm:gpu_cache_usage_perc")

		var processTotal int64
		for _, proc := range p.Processes {
			processTotal += proc.UsedBytes
		}
		assert.Equal(t, p.UsedBytes, processTotal,
			"Expected process usage to account for all used bytes")

		derived := vram.Derive(p)
		assert.GreaterOrEqual(t, derived.KVCacheUtilization, 0.0)
		assert.LessOrEqual(t, derived.KVCacheUtilization, 100.0)
	}
}

func TestProcessIdentitiesStable(t *testing.T) {
	g := mock.NewGenerator(7)

	first := g.Payload()
	second := g.Payload()

	require.Len(t, second.Processes, len(first.Processes))
	for i := range first.Processes {
		assert.Equal(t, first.Processes[i].PID, second.Processes[i].PID)
	}
}

func TestHandlerServesFetchablePayload(t *testing.T) {
	srv := httptest.NewServer(mock.Handler(mock.NewGenerator(42)))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client, err := vram.NewClient(u.Hostname(), port)
	require.NoError(t, err)

	payload, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(40<<30), payload.TotalBytes)
	assert.NotEmpty(t, payload.Blocks)
}
