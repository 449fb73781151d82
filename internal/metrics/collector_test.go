package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/lencsegabor-port/siitperfgo/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.FramesSent == nil || c.FramesReceived == nil || c.FramesDropped == nil {
		t.Fatal("frame counters must not be nil")
	}
	if c.ProbesLost == nil || c.PreliminaryLearned == nil || c.RunInvalid == nil {
		t.Fatal("latency/run metrics must not be nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestFrameCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncFramesSent("left", "foreground", 5)
	c.IncFramesSent("left", "background", 5)
	c.IncFramesReceived("right", "foreground", 3)
	c.IncFramesDropped("right", 2)

	if v := counterValue(t, c.FramesSent, "left", "foreground"); v != 5 {
		t.Errorf("FramesSent(left,foreground) = %v, want 5", v)
	}
	if v := counterValue(t, c.FramesSent, "left", "background"); v != 5 {
		t.Errorf("FramesSent(left,background) = %v, want 5", v)
	}
	if v := counterValue(t, c.FramesReceived, "right", "foreground"); v != 3 {
		t.Errorf("FramesReceived(right,foreground) = %v, want 3", v)
	}
	if v := counterValue(t, c.FramesDropped, "right"); v != 2 {
		t.Errorf("FramesDropped(right) = %v, want 2", v)
	}
}

func TestProbesLostAndGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncProbesLost("left", 1)
	c.IncProbesLost("left", 1)
	if v := counterValue(t, c.ProbesLost, "left"); v != 2 {
		t.Errorf("ProbesLost(left) = %v, want 2", v)
	}

	c.SetPreliminaryLearned(42)
	if v := gaugeValue(t, c.PreliminaryLearned); v != 42 {
		t.Errorf("PreliminaryLearned = %v, want 42", v)
	}

	c.SetRunInvalid(true)
	if v := gaugeValue(t, c.RunInvalid); v != 1 {
		t.Errorf("RunInvalid = %v, want 1", v)
	}
	c.SetRunInvalid(false)
	if v := gaugeValue(t, c.RunInvalid); v != 0 {
		t.Errorf("RunInvalid = %v, want 0", v)
	}
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
