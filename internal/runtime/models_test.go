package runtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
)

func TestModuleStatsRecordStep(t *testing.T) {
	stats := newModuleStats()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	stats.recordStep(start, 2*time.Millisecond, nil)
	stats.recordStep(start.Add(500*time.Millisecond), 4*time.Millisecond, sferrors.StepError("cam", "step", errors.New("no frame")))

	assert.Equal(t, uint64(2), stats.StepsRun)
	assert.Equal(t, uint64(1), stats.StepsFailed)
	assert.Equal(t, int64(6*time.Millisecond), stats.TotalStepTime)
	assert.Equal(t, int64(3*time.Millisecond), stats.Latency.AverageNs)
	assert.Equal(t, int64(4*time.Millisecond), stats.Latency.LastNs)
	assert.Equal(t, 2, stats.Latency.SampleSize)
	assert.Equal(t, uint64(2), stats.Throughput.StepsInWindow)
	assert.InDelta(t, 4.0, stats.Throughput.CurrentHz, 0.001)
	assert.Equal(t, uint64(1), stats.Errors.Step)
	assert.Contains(t, stats.Errors.LastError, "no frame")
}

func TestModuleStatsJSON(t *testing.T) {
	stats := newModuleStats()
	stats.recordStep(time.Now(), time.Millisecond, nil)

	data, err := json.Marshal(stats)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 1, decoded["steps_run"])
	assert.Contains(t, decoded, "latency")
	assert.Contains(t, decoded, "throughput")
}

func TestErrorBreakdownRecord(t *testing.T) {
	var b ErrorBreakdown
	b.Record(nil)
	b.Record(sferrors.ConfigError("m", "init", errors.New("missing port")))
	b.Record(sferrors.UnknownModuleTypeError{Name: "X"})
	b.Record(sferrors.ResourceError("m", "init", errors.New("busy")))
	b.Record(sferrors.StepError("m", "step", errors.New("x")))
	b.Record(sferrors.TeardownError("m", "deinit", errors.New("y")))
	b.Record(errors.New("plain"))

	assert.Equal(t, ErrorBreakdown{Config: 2, Resource: 1, Step: 1, Teardown: 1, Other: 1, LastError: "plain"}, b)
}

func TestLatencyWindowWraps(t *testing.T) {
	lw := newLatencyWindow(4)
	for i := 1; i <= 6; i++ {
		lw.Add(time.Duration(i))
	}
	snap := lw.Snapshot()
	assert.Equal(t, 4, snap.SampleSize)
	assert.Equal(t, int64(6), snap.LastNs)
	// Samples 3..6 remain.
	assert.Equal(t, int64(4), snap.AverageNs)
	assert.Equal(t, int64(4), snap.P50Ns)
	assert.Equal(t, int64(5), snap.P95Ns)
}

func TestLatencyWindowEmpty(t *testing.T) {
	assert.Equal(t, LatencyMetrics{}, newLatencyWindow(0).Snapshot())
}

func TestPercentile(t *testing.T) {
	samples := []int64{10, 20, 30, 40}
	assert.Equal(t, int64(0), percentile(nil, 0.5))
	assert.Equal(t, int64(10), percentile(samples, 0))
	assert.Equal(t, int64(40), percentile(samples, 1))
	assert.Equal(t, int64(25), percentile(samples, 0.5))
}

func TestThroughputWindowDropsOldSamples(t *testing.T) {
	tw := newThroughputWindow(time.Second)
	base := time.Now()
	tw.AddAndSnapshot(base)
	tw.AddAndSnapshot(base.Add(500 * time.Millisecond))
	snap := tw.AddAndSnapshot(base.Add(2 * time.Second))
	assert.Equal(t, 1, snap.Count)
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "interrupted", failureKind(sferrors.ErrInterrupted))
	assert.Equal(t, "resource", failureKind(sferrors.ResourceError("m", "op", errors.New("x"))))
	assert.Equal(t, "other", failureKind(errors.New("x")))
}
