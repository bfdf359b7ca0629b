package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/sched/cpu:seconds"

// ResourceUsage is the process footprint reported by GET /api/status.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// resourceTracker samples coarse CPU and memory usage. CPU is averaged over
// the time since the previous sample.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	startedAt      time.Time
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker(now time.Time) *resourceTracker {
	return &resourceTracker{
		samples:   []metrics.Sample{{Name: cpuSecondsMetric}},
		startedAt: now,
		numCPU:    float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot(now time.Time) ResourceUsage {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	sample := r.samples[0]
	haveCPU := sample.Value.Kind() == metrics.KindFloat64

	var usage ResourceUsage
	if haveCPU {
		cpuSeconds := sample.Value.Float64()
		if !r.lastSample.IsZero() {
			deltaWall := now.Sub(r.lastSample).Seconds()
			if deltaWall > 0 && r.numCPU > 0 {
				usage.CPUPercent = (cpuSeconds - r.lastCPUSeconds) / deltaWall / r.numCPU * 100
			}
		}
		r.lastCPUSeconds = cpuSeconds
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = runtime.NumGoroutine()
	usage.UptimeSeconds = now.Sub(r.startedAt).Seconds()
	return usage
}
