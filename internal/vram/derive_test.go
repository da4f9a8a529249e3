package vram_test

import (
	"testing"

	"codeberg.org/mutker/vramwatch/internal/vram"
	"github.com/stretchr/testify/assert"
)

func TestDerive(t *testing.T) {
	p := &vram.Payload{
		TotalBytes:         1000,
		UsedBytes:          250,
		AllocatedBlocks:    100,
		UtilizedBlocks:     25,
		FragmentationRatio: 0.8,
	}

	d := vram.Derive(p)

	assert.InDelta(t, 25.0, d.KVCacheUtilization, 1e-9, "Expected kv_cache_utilization 25.0")
	assert.InDelta(t, 25.0, d.MemoryUtilization, 1e-9, "Expected memory_utilization 25.0")
	assert.InDelta(t, 0.8, d.MemoryFragmentation, 1e-9, "Expected fragmentation passthrough")
}

func TestDeriveZeroDenominators(t *testing.T) {
	d := vram.Derive(&vram.Payload{
		UsedBytes:      512,
		UtilizedBlocks: 7,
	})

	assert.Zero(t, d.KVCacheUtilization, "Expected 0 with no allocated blocks")
	assert.Zero(t, d.MemoryUtilization, "Expected 0 with no total bytes")
	assert.Zero(t, d.MemoryFragmentation)
}

func TestDeriveBounds(t *testing.T) {
	p := &vram.Payload{
		TotalBytes:      42949672960,
		UsedBytes:       42949672960,
		AllocatedBlocks: 14000,
		UtilizedBlocks:  14000,
	}

	d := vram.Derive(p)

	assert.InDelta(t, 100.0, d.KVCacheUtilization, 1e-9)
	assert.InDelta(t, 100.0, d.MemoryUtilization, 1e-9)
}
