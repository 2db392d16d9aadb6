package timingwheel

// metrics.go is a thin abstraction over Prometheus so the wheel can be used
// with or without metrics. When the caller passes a *prometheus.Registry via
// WithMetrics, labeled collectors are created and registered; otherwise a
// no-op sink is used and the hot path (Add/Remove/AdvanceClock) pays nothing
// beyond an interface call, matching the teacher's pkg/metrics.go split.
//
// ┌──────────────────────────────────────┬───────────┬──────────────┐
// │ Metric                                │ Type      │ Labels       │
// ├────────────────────────────────────────┼───────────┼──────────────┤
// │ tickwheel_alarms_pending               │ Gauge     │ —            │
// │ tickwheel_alarms_fired_total           │ Counter   │ —            │
// │ tickwheel_alarms_evicted_total         │ Counter   │ —            │
// │ tickwheel_level_length                 │ GaugeVec  │ level        │
// │ tickwheel_pool_capacity                │ Gauge     │ —            │
// │ tickwheel_advance_duration_seconds     │ Histogram │ —            │
// └──────────────────────────────────────┴───────────┴──────────────┘
//
// © 2025 tickwheel authors. MIT License.

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink abstracts away the concrete backend (Prometheus vs noop). Not
// exported; TimingWheel only knows about the methods below.
type metricsSink interface {
	setPending(n int)
	addFired(n int)
	addEvicted(n int)
	setLevelLength(level int, n int)
	setPoolCapacity(n int)
	observeAdvanceDuration(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) setPending(int)                 {}
func (noopMetrics) addFired(int)                   {}
func (noopMetrics) addEvicted(int)                 {}
func (noopMetrics) setLevelLength(int, int)         {}
func (noopMetrics) setPoolCapacity(int)             {}
func (noopMetrics) observeAdvanceDuration(time.Duration) {}

type promMetrics struct {
	pending  prometheus.Gauge
	fired    prometheus.Counter
	evicted  prometheus.Counter
	levelLen *prometheus.GaugeVec
	poolCap  prometheus.Gauge
	advance  prometheus.Histogram
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickwheel",
			Name:      "alarms_pending",
			Help:      "Number of alarms currently scheduled.",
		}),
		fired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickwheel",
			Name:      "alarms_fired_total",
			Help:      "Cumulative alarms delivered via the fired handler.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickwheel",
			Name:      "alarms_evicted_total",
			Help:      "Cumulative alarms evicted without being delivered (should stay at zero).",
		}),
		levelLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tickwheel",
			Name:      "level_length",
			Help:      "Live element count per level.",
		}, []string{"level"}),
		poolCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tickwheel",
			Name:      "pool_capacity",
			Help:      "Current element pool backing-slice capacity.",
		}),
		advance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tickwheel",
			Name:      "advance_duration_seconds",
			Help:      "Wall-clock cost of one AdvanceClock call.",
		}),
	}
	reg.MustRegister(pm.pending, pm.fired, pm.evicted, pm.levelLen, pm.poolCap, pm.advance)
	return pm
}

func (m *promMetrics) setPending(n int) { m.pending.Set(float64(n)) }
func (m *promMetrics) addFired(n int)   { m.fired.Add(float64(n)) }
func (m *promMetrics) addEvicted(n int) { m.evicted.Add(float64(n)) }
func (m *promMetrics) setLevelLength(level int, n int) {
	m.levelLen.WithLabelValues(strconv.Itoa(level)).Set(float64(n))
}
func (m *promMetrics) setPoolCapacity(n int) { m.poolCap.Set(float64(n)) }
func (m *promMetrics) observeAdvanceDuration(d time.Duration) {
	m.advance.Observe(d.Seconds())
}

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
