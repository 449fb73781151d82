package integration

import (
	"context"
	"testing"

	"github.com/lencsegabor-port/siitperfgo/internal/config"
	"github.com/lencsegabor-port/siitperfgo/internal/engine"
	"github.com/lencsegabor-port/siitperfgo/internal/frame"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
	"github.com/lencsegabor-port/siitperfgo/internal/pacing"
	"github.com/lencsegabor-port/siitperfgo/internal/sender"
)

// TestLatencyProbeOverlayReportsPlausibleLatency covers S6: when a
// direction carries a probe template and K > 0, the engine must send K
// probes at spec.md section 4.6's prescribed indices, recover their
// round-trip time through the reflector, and report a worst-case
// latency no smaller than the typical (median) one.
func TestLatencyProbeOverlayReportsPlausibleLatency(t *testing.T) {
	const depth = 8192
	out := netio.NewLoopbackQueue(depth)
	in := netio.NewLoopbackQueue(depth)
	netio.Reflect(out, in)

	dir := &engine.DirectionRuntime{
		Name:              "left",
		Queue:             &reflectedQueue{out: out, in: in},
		CPUCore:           -1,
		Foreground:        sender.TemplateSet{Subnets: [][]*frame.Template{{buildTemplate(t, 6)}}},
		Background:        sender.TemplateSet{Subnets: [][]*frame.Template{{buildTemplate(t, 6)}}},
		SrcPort:           sender.PortRange{Min: frame.FixedSrcPort, Mode: sender.PortFixed},
		DstPort:           sender.PortRange{Min: frame.FixedDstPort, Mode: sender.PortFixed},
		ForegroundVersion: 6,
		ProbeTemplate:     buildProbeTemplate(t, 6),
	}

	cfg := &config.RunConfig{
		Rate: 1000, Duration: 2, Mod: 2, Threshold: 1, TimeoutMS: 300,
		DelaySeconds: 0, K: 5,
	}
	e := engine.New(cfg, nil, nil, pacing.NewSystemClock())

	report, err := e.Run(context.Background(), map[string]*engine.DirectionRuntime{"left": dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := report.Directions["left"]
	if !got.HasLatency {
		t.Fatal("HasLatency = false, want true")
	}
	if got.TL <= 0 {
		t.Errorf("TL = %v, want > 0", got.TL)
	}
	if got.WCL < got.TL {
		t.Errorf("WCL (%v) < TL (%v), want WCL >= TL", got.WCL, got.TL)
	}
}
