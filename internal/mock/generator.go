// Package mock serves synthetic allocator state for development and demos.
// The generated payloads drift smoothly between samples so dashboards show
// plausible curves instead of noise.
package mock

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/vramwatch/internal/vram"
)

const (
	defaultTotalBytes = 40 << 30 // 40 GiB, an A100-class card
	defaultNumBlocks  = 256

	minUsedFraction = 0.20
	maxUsedFraction = 0.95
	maxDriftStep    = 0.03
)

var processNames = []string{"vllm-worker", "trainer", "embedder", "reranker"}

type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand

	totalBytes   int64
	numBlocks    int
	usedFraction float64
	pids         []int
}

func NewGenerator(seed int64) *Generator {
	rng := rand.New(rand.NewSource(seed))

	numProcs := 2 + rng.Intn(3)
	pids := make([]int, 0, numProcs)
	for i := 0; i < numProcs; i++ {
		pids = append(pids, 1000+rng.Intn(30000))
	}

	return &Generator{
		rng:          rng,
		totalBytes:   defaultTotalBytes,
		numBlocks:    defaultNumBlocks,
		usedFraction: 0.5,
		pids:         pids,
	}
}

// Payload produces the next sample. Utilization performs a bounded random
// walk; process identities stay fixed for the generator's lifetime so
// per-process history is continuous.
func (g *Generator) Payload() *vram.Payload {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.usedFraction += (g.rng.Float64()*2 - 1) * maxDriftStep
	if g.usedFraction < minUsedFraction {
		g.usedFraction = minUsedFraction
	}
	if g.usedFraction > maxUsedFraction {
		g.usedFraction = maxUsedFraction
	}

	usedBytes := int64(float64(g.totalBytes) * g.usedFraction)
	reservedBytes := usedBytes + int64(float64(g.totalBytes)*0.02)

	blockSize := g.totalBytes / int64(g.numBlocks)
	allocatedBlocks := int(float64(g.numBlocks) * g.usedFraction)
	utilizedBlocks := int(float64(allocatedBlocks) * (0.6 + g.rng.Float64()*0.35))

	blocks := make([]vram.Block, 0, g.numBlocks)
	for i := 0; i < g.numBlocks; i++ {
		blockType := "general"
		if i%3 == 0 {
			blockType = "kv_cache"
		}
		blocks = append(blocks, vram.Block{
			BlockID:   i,
			Size:      blockSize,
			Type:      blockType,
			Allocated: i < allocatedBlocks,
			Utilized:  i < utilizedBlocks,
		})
	}

	p := &vram.Payload{
		TotalBytes:             g.totalBytes,
		UsedBytes:              usedBytes,
		FreeBytes:              g.totalBytes - usedBytes,
		ReservedBytes:          reservedBytes,
		UsedPercent:            g.usedFraction * 100,
		AllocatedBlocks:        int64(allocatedBlocks),
		FreeBlocks:             int64(g.numBlocks - allocatedBlocks),
		UtilizedBlocks:         int64(utilizedBlocks),
		AtomicAllocationsBytes: int64(g.rng.Intn(1 << 20)),
		FragmentationRatio:     g.rng.Float64() * 0.4,
		Blocks:                 blocks,
		NsightMetrics:          make(map[string]vram.NsightMetric, len(g.pids)),
	}

	remaining := usedBytes
	for i, pid := range g.pids {
		share := remaining / int64(len(g.pids)-i)
		p.Processes = append(p.Processes, vram.Process{
			PID:           pid,
			Name:          processNames[i%len(processNames)],
			UsedBytes:     share,
			ReservedBytes: share + share/50,
		})
		remaining -= share

		for t := 0; t < 2; t++ {
			state := "active"
			if t == 1 {
				state = "waiting"
			}
			p.Threads = append(p.Threads, vram.Thread{
				ThreadID:       pid*10 + t,
				AllocatedBytes: share / 2,
				State:          state,
			})
		}

		p.NsightMetrics[strconv.Itoa(pid)] = g.nsightMetric()
	}

	p.VLLMMetrics = g.vllmExposition()

	return p
}

func (g *Generator) nsightMetric() vram.NsightMetric {
	atomicOps := int64(g.rng.Intn(100000))
	threadsPerBlock := int64(128 + 32*g.rng.Intn(8))
	blocksPerSM := int64(1 + g.rng.Intn(16))
	sharedMem := int64(g.rng.Intn(48 << 10))
	occupancy := 0.4 + g.rng.Float64()*0.6

	return vram.NsightMetric{
		Available:         true,
		AtomicOperations:  &atomicOps,
		ThreadsPerBlock:   &threadsPerBlock,
		BlocksPerSM:       &blocksPerSM,
		SharedMemoryUsage: &sharedMem,
		Occupancy:         &occupancy,
	}
}

// vllmExposition fakes the scrape output a vLLM server would expose.
func (g *Generator) vllmExposition() string {
	var b strings.Builder
	b.WriteString("# HELP vllm:gpu_cache_usage_perc GPU KV-cache usage.\n")
	b.WriteString("# TYPE vllm:gpu_cache_usage_perc gauge\n")
	fmt.Fprintf(&b, "vllm:gpu_cache_usage_perc %.4f\n", g.usedFraction)
	b.WriteString("# HELP vllm:num_requests_running Number of running requests.\n")
	b.WriteString("# TYPE vllm:num_requests_running gauge\n")
	fmt.Fprintf(&b, "vllm:num_requests_running %d\n", g.rng.Intn(32))

	return b.String()
}
