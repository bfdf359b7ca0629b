package runtime

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
	"github.com/drblury/servoflow/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ModuleStats accumulates per-module step statistics for the status API.
type ModuleStats struct {
	mu sync.Mutex

	StepsRun      uint64    `json:"steps_run"`
	StepsFailed   uint64    `json:"steps_failed"`
	TotalStepTime int64     `json:"total_step_time_ns"`
	LastStepAt    time.Time `json:"last_step_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

// ModuleInfo is one row of GET /api/modules.
type ModuleInfo struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Index       int            `json:"index"`
	Initialized bool           `json:"initialized"`
	Observer    bool           `json:"observer"`
	Detail      map[string]any `json:"detail,omitempty"`
	Stats       *ModuleStats   `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentHz     float64 `json:"current_hz"`
	WindowSeconds float64 `json:"window_seconds"`
	StepsInWindow uint64  `json:"steps_in_window"`
}

// ErrorBreakdown counts failures by error kind.
type ErrorBreakdown struct {
	Config    uint64 `json:"config"`
	Resource  uint64 `json:"resource"`
	Step      uint64 `json:"step"`
	Teardown  uint64 `json:"teardown"`
	Other     uint64 `json:"other"`
	LastError string `json:"last_error,omitempty"`
}

func newModuleStats() *ModuleStats {
	return &ModuleStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (m *ModuleStats) recordStep(at time.Time, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StepsRun++
	if err != nil {
		m.StepsFailed++
	}
	m.TotalStepTime += int64(duration)
	m.LastStepAt = at.UTC()

	m.latencyWindow.Add(duration)
	snapshot := m.latencyWindow.Snapshot()
	snapshot.AverageNs = m.TotalStepTime / int64(m.StepsRun)
	m.Latency = snapshot

	tp := m.throughputWindow.AddAndSnapshot(at)
	m.Throughput = ThroughputMetrics{
		CurrentHz:     tp.CurrentHz,
		WindowSeconds: tp.WindowSeconds,
		StepsInWindow: uint64(tp.Count),
	}

	m.Errors.Record(err)
}

// recordFailure counts a lifecycle failure outside Step, such as Init.
func (m *ModuleStats) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors.Record(err)
}

func (m *ModuleStats) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type alias struct {
		StepsRun      uint64            `json:"steps_run"`
		StepsFailed   uint64            `json:"steps_failed"`
		TotalStepTime int64             `json:"total_step_time_ns"`
		LastStepAt    time.Time         `json:"last_step_at"`
		Latency       LatencyMetrics    `json:"latency"`
		Throughput    ThroughputMetrics `json:"throughput"`
		Errors        ErrorBreakdown    `json:"errors"`
	}
	return jsoncodec.Marshal(alias{
		StepsRun:      m.StepsRun,
		StepsFailed:   m.StepsFailed,
		TotalStepTime: m.TotalStepTime,
		LastStepAt:    m.LastStepAt,
		Latency:       m.Latency,
		Throughput:    m.Throughput,
		Errors:        m.Errors,
	})
}

// Record counts err under its kind. A nil error is ignored.
func (e *ErrorBreakdown) Record(err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, sferrors.ErrConfig):
		e.Config++
	case errors.Is(err, sferrors.ErrResource):
		e.Resource++
	case errors.Is(err, sferrors.ErrStep):
		e.Step++
	case errors.Is(err, sferrors.ErrTeardown):
		e.Teardown++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

// percentile interpolates linearly between the two nearest ranks of a
// sorted slice.
func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentHz     float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentHz:     float64(count) / span.Seconds(),
	}
}

// failureKind labels err for metrics and logs.
func failureKind(err error) string {
	if errors.Is(err, sferrors.ErrInterrupted) {
		return "interrupted"
	}
	if kind, ok := sferrors.KindOf(err); ok {
		return kind.String()
	}
	return "other"
}
