package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "servoflow"

// Metrics holds the orchestrator's Prometheus collectors. It also serves as
// the bridge's traffic observer.
type Metrics struct {
	mu sync.Mutex

	cyclesTotal    prometheus.Counter
	cycleDuration  prometheus.Histogram
	stepDuration   *prometheus.HistogramVec
	stepFailures   *prometheus.CounterVec
	state          prometheus.Gauge
	bridgeMessages *prometheus.CounterVec
	bridgeBytes    *prometheus.CounterVec
	bridgeErrors   *prometheus.CounterVec
	bridgeDropped  prometheus.Counter
	bridgeLag      prometheus.Histogram

	registerer prometheus.Registerer
	registered bool
}

var stepBuckets = []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewMetrics creates the collectors. A nil registerer means the Prometheus
// default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Completed orchestrator cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one receive, fold and publish cycle",
			Buckets:   stepBuckets,
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "module",
			Name:      "step_duration_seconds",
			Help:      "Duration of a single module step",
			Buckets:   stepBuckets,
		}, []string{"module"}),
		stepFailures: newCounterVec("module", "failures_total", "Module lifecycle failures", []string{"module", "kind"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "state",
			Help:      "Orchestrator lifecycle state as its numeric code",
		}),
		bridgeMessages: newCounterVec("bridge", "messages_total", "Bus messages moved by the bridge", []string{"direction"}),
		bridgeBytes:    newCounterVec("bridge", "bytes_total", "Encoded bus bytes moved by the bridge", []string{"direction"}),
		bridgeErrors:   newCounterVec("bridge", "errors_total", "Bridge send and receive failures", []string{"direction"}),
		bridgeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bridge",
			Name:      "dropped_total",
			Help:      "Received bus messages replaced by a newer one before the loop read them",
		}),
		bridgeLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "bridge",
			Name:      "lag_seconds",
			Help:      "Time between a peer sending a bus and this orchestrator reading it",
			Buckets:   prometheus.ExponentialBuckets(.0005, 2, 14),
		}),
	}
}

// Register registers every collector. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.cyclesTotal,
		m.cycleDuration,
		m.stepDuration,
		m.stepFailures,
		m.state,
		m.bridgeMessages,
		m.bridgeBytes,
		m.bridgeErrors,
		m.bridgeDropped,
		m.bridgeLag,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// CycleCompleted records one finished cycle.
func (m *Metrics) CycleCompleted(d time.Duration) {
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// StepObserved records one module step and, when err is set, its failure.
func (m *Metrics) StepObserved(module string, d time.Duration, err error) {
	m.stepDuration.WithLabelValues(module).Observe(d.Seconds())
	if err != nil {
		m.ModuleFailed(module, err)
	}
}

// ModuleFailed counts a lifecycle failure of module.
func (m *Metrics) ModuleFailed(module string, err error) {
	m.stepFailures.WithLabelValues(module, failureKind(err)).Inc()
}

// SetState publishes the lifecycle state.
func (m *Metrics) SetState(s State) {
	m.state.Set(float64(s))
}

func (m *Metrics) BusSent(size int) {
	m.bridgeMessages.WithLabelValues("send").Inc()
	m.bridgeBytes.WithLabelValues("send").Add(float64(size))
}

func (m *Metrics) BusReceived(size int, lag time.Duration) {
	m.bridgeMessages.WithLabelValues("receive").Inc()
	m.bridgeBytes.WithLabelValues("receive").Add(float64(size))
	if lag > 0 {
		m.bridgeLag.Observe(lag.Seconds())
	}
}

func (m *Metrics) BusDropped() {
	m.bridgeDropped.Inc()
}

func (m *Metrics) BridgeFailed(direction string) {
	m.bridgeErrors.WithLabelValues(direction).Inc()
}
