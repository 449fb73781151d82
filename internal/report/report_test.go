package report_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lencsegabor-port/siitperfgo/internal/engine"
	"github.com/lencsegabor-port/siitperfgo/internal/report"
)

func sampleReport() engine.Report {
	return engine.Report{
		Directions: map[string]engine.DirectionReport{
			"left":  {ElapsedSeconds: 5.000123, Sent: 5000, Received: 4998},
			"right": {ElapsedSeconds: 5.000045, Sent: 5000, Received: 5000, HasLatency: true, TL: 0.42, WCL: 1.7},
		},
	}
}

func TestWriteTextIncludesAllFields(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteText(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "left: elapsed=5.000123s sent=5000 received=4998") {
		t.Errorf("missing left line, got:\n%s", out)
	}
	if !strings.Contains(out, "TL=0.420ms WCL=1.700ms") {
		t.Errorf("missing latency fields, got:\n%s", out)
	}
}

func TestWriteTextReportsInvalidAndWarnings(t *testing.T) {
	var buf bytes.Buffer
	r := sampleReport()
	r.Invalid = true
	r.Warnings = []string{"engine: preliminary phase underfilled the state table"}
	if err := report.WriteText(&buf, r); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "warning: engine: preliminary phase underfilled the state table") {
		t.Errorf("missing warning line, got:\n%s", out)
	}
	if !strings.Contains(out, "run invalid") {
		t.Errorf("missing invalid line, got:\n%s", out)
	}
}

func TestWriteYAMLRoundTripsFields(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteYAML(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "frames_sent: 5000") {
		t.Errorf("missing frames_sent, got:\n%s", out)
	}
	if !strings.Contains(out, "tl_ms:") {
		t.Errorf("missing tl_ms, got:\n%s", out)
	}
}
