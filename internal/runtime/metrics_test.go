package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/servoflow/internal/runtime/bridge"
	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
)

var _ bridge.Observer = (*Metrics)(nil)

func TestMetricsRegisterTwice(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())
}

func TestMetricsRegisterToleratesExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewMetrics(reg).Register())
	// A second orchestrator in the same process shares the registry.
	require.NoError(t, NewMetrics(reg).Register())
}

func TestMetricsRecordCyclesAndSteps(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.CycleCompleted(3 * time.Millisecond)
	m.CycleCompleted(time.Millisecond)
	m.StepObserved("writer", time.Millisecond, nil)
	m.StepObserved("reader", time.Millisecond, sferrors.StepError("reader", "step", errors.New("x")))
	m.ModuleFailed("reader", sferrors.TeardownError("reader", "deinit", errors.New("y")))
	m.SetState(StateRunning)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cyclesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepFailures.WithLabelValues("reader", "step")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepFailures.WithLabelValues("reader", "teardown")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stepFailures.WithLabelValues("writer", "step")))
	assert.Equal(t, float64(StateRunning), testutil.ToFloat64(m.state))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stepDuration))
}

func TestMetricsObserveBridge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.BusSent(120)
	m.BusSent(80)
	m.BusReceived(64, 5*time.Millisecond)
	m.BusDropped()
	m.BridgeFailed("send")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bridgeMessages.WithLabelValues("send")))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.bridgeBytes.WithLabelValues("send")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeMessages.WithLabelValues("receive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeErrors.WithLabelValues("send")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.bridgeLag))
}
