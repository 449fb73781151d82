// Package metrics exposes siitperfgo's ambient Prometheus metrics:
// per-direction sent/received/dropped frame counters and probe
// latency outcomes, following the teacher's namespace/subsystem +
// NewCollector(reg) factory pattern.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "siitperfgo"
	subsystem = "engine"
)

// Label names for engine metrics.
const (
	labelDirection = "direction" // "left" or "right"
	labelKind      = "kind"      // "foreground", "background", or "all"
)

// Collector holds all siitperfgo Prometheus metrics.
type Collector struct {
	// FramesSent counts frames transmitted, per direction and kind.
	FramesSent *prometheus.CounterVec

	// FramesReceived counts frames accepted by the receiver's
	// classify step, per direction and kind.
	FramesReceived *prometheus.CounterVec

	// FramesDropped counts frames the receiver rejected as malformed
	// or unclassifiable, per direction.
	FramesDropped *prometheus.CounterVec

	// ProbesLost counts latency probes whose receive timestamp never
	// arrived, per spec.md section 4.6/7's LostProbe kind.
	ProbesLost *prometheus.CounterVec

	// PreliminaryLearned is the number of four-tuples the responder's
	// learning receiver stored during the preliminary phase.
	PreliminaryLearned prometheus.Gauge

	// RunInvalid is set to 1 if the most recent run tripped a pacing
	// violation (spec.md section 9, resolved as warning+invalid-flag).
	RunInvalid prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FramesSent,
		c.FramesReceived,
		c.FramesDropped,
		c.ProbesLost,
		c.PreliminaryLearned,
		c.RunInvalid,
	)

	return c
}

func newMetrics() *Collector {
	dirKindLabels := []string{labelDirection, labelKind}
	dirLabels := []string{labelDirection}

	return &Collector{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Total frames transmitted by a sender worker.",
		}, dirKindLabels),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Total frames accepted by a receiver worker's classify step.",
		}, dirKindLabels),

		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Total frames rejected as malformed or unclassifiable.",
		}, dirLabels),

		ProbesLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probes_lost_total",
			Help:      "Total latency probes with no observed receive timestamp.",
		}, dirLabels),

		PreliminaryLearned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "preliminary_learned_tuples",
			Help:      "Number of four-tuples learned during the preliminary phase.",
		}),

		RunInvalid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_invalid",
			Help:      "1 if the most recent run's elapsed time exceeded the pacing tolerance.",
		}),
	}
}

// IncFramesSent increments the sent counter for direction/kind.
func (c *Collector) IncFramesSent(direction, kind string, n uint64) {
	c.FramesSent.WithLabelValues(direction, kind).Add(float64(n))
}

// IncFramesReceived increments the received counter for direction/kind.
func (c *Collector) IncFramesReceived(direction, kind string, n uint64) {
	c.FramesReceived.WithLabelValues(direction, kind).Add(float64(n))
}

// IncFramesDropped increments the dropped counter for direction.
func (c *Collector) IncFramesDropped(direction string, n uint64) {
	c.FramesDropped.WithLabelValues(direction).Add(float64(n))
}

// IncProbesLost increments the lost-probe counter for direction.
func (c *Collector) IncProbesLost(direction string, n uint64) {
	c.ProbesLost.WithLabelValues(direction).Add(float64(n))
}

// SetPreliminaryLearned sets the preliminary-phase learned-tuple gauge.
func (c *Collector) SetPreliminaryLearned(n int) {
	c.PreliminaryLearned.Set(float64(n))
}

// SetRunInvalid records whether the run tripped a pacing violation.
func (c *Collector) SetRunInvalid(invalid bool) {
	if invalid {
		c.RunInvalid.Set(1)
		return
	}
	c.RunInvalid.Set(0)
}
