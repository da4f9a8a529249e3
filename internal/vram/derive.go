package vram

// DerivedMetrics are the ratios computed from raw allocator counts. They are
// derived in exactly one place so the polling path and the external
// submission path can never disagree.
type DerivedMetrics struct {
	KVCacheUtilization  float64
	MemoryUtilization   float64
	MemoryFragmentation float64
}

// Derive computes derived ratios from a raw payload. Zero denominators yield
// zero values, never an error or NaN.
func Derive(p *Payload) DerivedMetrics {
	d := DerivedMetrics{
		MemoryFragmentation: p.FragmentationRatio,
	}

	if p.AllocatedBlocks > 0 {
		d.KVCacheUtilization = float64(p.UtilizedBlocks) / float64(p.AllocatedBlocks) * 100
	}
	if p.TotalBytes > 0 {
		d.MemoryUtilization = float64(p.UsedBytes) / float64(p.TotalBytes) * 100
	}

	return d
}
