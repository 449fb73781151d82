// Package engine orchestrates the sender/receiver workers against a
// common start timestamp, following spec.md sections 2, 4.7, and 5:
// it does no traffic-engine work itself, only phase sequencing, core
// pinning, and joining, mirroring the teacher's errgroup-based
// cmd/gobfd/main.go runServers orchestration.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lencsegabor-port/siitperfgo/internal/config"
	"github.com/lencsegabor-port/siitperfgo/internal/frame"
	"github.com/lencsegabor-port/siitperfgo/internal/latency"
	"github.com/lencsegabor-port/siitperfgo/internal/metrics"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
	"github.com/lencsegabor-port/siitperfgo/internal/pacing"
	"github.com/lencsegabor-port/siitperfgo/internal/permute"
	"github.com/lencsegabor-port/siitperfgo/internal/receiver"
	"github.com/lencsegabor-port/siitperfgo/internal/sender"
	"github.com/lencsegabor-port/siitperfgo/internal/statetable"
)

// DirectionRuntime is everything a single direction (left or right)
// needs to run its sender and receiver, built by the caller (cmd
// layer) from config.SideConfig plus the frame templates it compiled.
type DirectionRuntime struct {
	Name string

	Queue   netio.Queue
	CPUCore int

	Foreground sender.TemplateSet
	Background sender.TemplateSet

	SrcPort sender.PortRange
	DstPort sender.PortRange

	// IPSlice drives the per-frame IP-slice variation applied to this
	// direction's templates (spec.md section 4.2's multi-IP variant).
	IPSlice sender.IPSliceRange

	// ForegroundVersion is the IP version this direction's receiver
	// treats as foreground (spec.md section 4.5).
	ForegroundVersion int

	// SrcIP4/DstIP4 are only used when this direction is the
	// Initiator side of a stateful test (spec.md section 4.3 is
	// IPv4-only, per its stated non-goal for stateful IPv6).
	SrcIP4, DstIP4 [4]byte

	// ProbeTemplate is the latency-probe frame for this direction, or
	// nil if this direction does not participate in latency
	// measurement. Required for the probe overlay of spec.md section
	// 4.6 to run; left nil makes the overlay a no-op.
	ProbeTemplate *frame.Template
}

// DirectionReport is the per-direction reported output of spec.md
// section 6.
type DirectionReport struct {
	ElapsedSeconds float64
	Sent           uint64
	Received       uint64
	HasLatency     bool
	TL             float64
	WCL            float64
}

// Report is the full reported output of one engine run.
type Report struct {
	Directions map[string]DirectionReport
	Invalid    bool
	Warnings   []string
}

// Engine owns the shared clock, metrics, and logger for one run.
type Engine struct {
	Cfg     *config.RunConfig
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Clock   pacing.Clock
}

// New returns an Engine. A nil logger or metrics collector is replaced
// with a no-op equivalent so callers (including tests) may omit them.
func New(cfg *config.RunConfig, logger *slog.Logger, collector *metrics.Collector, clock pacing.Clock) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = pacing.NewSystemClock()
	}
	return &Engine{Cfg: cfg, Logger: logger, Metrics: collector, Clock: clock}
}

// Run executes the configured test against dirs, following the
// Setup -> Preliminary -> (Wait pre_delay) -> Measurement -> Evaluate
// state machine of spec.md section 4.7 when Cfg.Stateful != 0, or
// going straight to Measurement otherwise.
func (e *Engine) Run(ctx context.Context, dirs map[string]*DirectionRuntime) (Report, error) {
	report := Report{Directions: map[string]DirectionReport{}}

	table := statetable.New(e.Cfg.StateTableSize)

	t0 := e.Clock.Now() + uint64(e.Cfg.StartDelayMS)*uint64(time.Millisecond)

	if e.Cfg.Stateful != 0 {
		if err := e.runPreliminary(ctx, dirs, table, t0, &report); err != nil {
			return report, err
		}
		// Re-derive T0 for the measurement phase: the preliminary
		// phase already consumed wall-clock time, so the wait is
		// against the configured pre_delay from "now", per spec.md
		// section 2's "waits for all" control flow.
		t0 = e.Clock.Now() + uint64(e.Cfg.PrelimDelayMS)*uint64(time.Millisecond)
	}

	if err := e.runMeasurement(ctx, dirs, table, t0, &report); err != nil {
		return report, err
	}

	return report, nil
}

// runPreliminary drives the Initiator -> Responder-learning preliminary
// phase of spec.md sections 2 and 4.3/4.5.
func (e *Engine) runPreliminary(ctx context.Context, dirs map[string]*DirectionRuntime, table *statetable.Table, t0 uint64, report *Report) error {
	initiatorName, responderName := "left", "right"
	if e.Cfg.Stateful == 2 {
		initiatorName, responderName = "right", "left"
	}

	initiator, ok := dirs[initiatorName]
	if !ok {
		return fmt.Errorf("%w: no direction runtime for initiator side %q", ErrInvalidConfiguration, initiatorName)
	}
	responder, ok := dirs[responderName]
	if !ok {
		return fmt.Errorf("%w: no direction runtime for responder side %q", ErrInvalidConfiguration, responderName)
	}

	tpls := initiator.Foreground.Subnets
	if len(tpls) == 0 || len(tpls[0]) == 0 {
		return fmt.Errorf("%w: initiator side has no foreground template", ErrInvalidConfiguration)
	}

	rng := permute.NewRand()
	mode := sender.EnumerateMode(e.Cfg.EnumerateIPs)
	if e.Cfg.EnumeratePorts != 0 {
		mode = sender.EnumerateMode(e.Cfg.EnumeratePorts)
	}

	var perm *permute.Sequence[permute.Pair]
	if mode == sender.EnumeratePermutation {
		var err error
		perm, err = permute.PortPairs(1, 65535, 1, 65535, rng)
		if err != nil {
			return fmt.Errorf("%w: build preliminary permutation: %v", ErrInvalidConfiguration, err)
		}
	}

	is, err := sender.NewInitiatorSender(sender.InitiatorParams{
		Template: tpls[0][0],
		Queue:    initiator.Queue,
		Clock:    e.Clock,
		SrcIP:    initiator.SrcIP4,
		DstIP:    initiator.DstIP4,
		N:        uint32(e.Cfg.PrelimFrames),
		Rate:     uint32(e.Cfg.PrelimRate),
		T0:       t0,
		Mode:     mode,
		SportRange: [2]uint16{1, 65535},
		DportRange: [2]uint16{1, 65535},
		Permutation: perm,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	pool := netio.NewBufferPool(2048)
	learner := &receiver.ResponderReceiver{
		Queue:    responder.Queue,
		Pool:     pool,
		Clock:    e.Clock,
		FinishAt: t0 + uint64(e.Cfg.PrelimTimeoutMS)*uint64(time.Millisecond),
		Table:    table,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := netio.PinCurrentThread(initiator.CPUCore); err != nil {
			e.Logger.Warn("numa/affinity pin failed", slog.String("direction", initiator.Name), slog.String("error", err.Error()))
			report.Warnings = append(report.Warnings, "NumaMismatch: "+err.Error())
		}
		_, err := is.Run(gctx)
		return err
	})

	var learned receiver.Result
	g.Go(func() error {
		if err := netio.PinCurrentThread(responder.CPUCore); err != nil {
			e.Logger.Warn("numa/affinity pin failed", slog.String("direction", responder.Name), slog.String("error", err.Error()))
			report.Warnings = append(report.Warnings, "NumaMismatch: "+err.Error())
		}
		learned = learner.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if e.Metrics != nil {
		e.Metrics.SetPreliminaryLearned(table.ValidEntries())
	}

	if table.ValidEntries() < e.Cfg.StateTableSize {
		e.Logger.Error("preliminary phase underfilled the state table",
			slog.Int("valid_entries", table.ValidEntries()),
			slog.Int("want", e.Cfg.StateTableSize),
			slog.Uint64("foreground_learned", learned.Foreground),
		)
		report.Warnings = append(report.Warnings, ErrPreliminaryUnderfill.Error())
	}

	return nil
}

// runMeasurement drives the stateless/responder senders and counting
// receivers for every active direction, pinned and joined via an
// errgroup (spec.md section 5: "orchestrator does no work other than
// joining").
func (e *Engine) runMeasurement(ctx context.Context, dirs map[string]*DirectionRuntime, table *statetable.Table, t0 uint64, report *Report) error {
	finishAt := t0 + uint64(e.Cfg.Duration)*pacing.Hz + uint64(e.Cfg.TimeoutMS)*uint64(time.Millisecond)

	g, gctx := errgroup.WithContext(ctx)

	type outcome struct {
		name     string
		sent     uint64
		elapsed  time.Duration
		invalid  bool
		received receiver.Result
	}
	// Buffered for two sends per direction (sender outcome + receiver
	// outcome); both goroutines must be able to publish and return
	// before the single drain loop below runs after g.Wait().
	results := make(chan outcome, 2*len(dirs))

	responderName := ""
	if e.Cfg.Stateful == 1 {
		responderName = "right"
	} else if e.Cfg.Stateful == 2 {
		responderName = "left"
	}

	names := make([]string, 0, len(dirs))
	for name := range dirs {
		names = append(names, name)
	}
	sort.Strings(names)

	// crs and probeSendTS are written at most once per index, each by
	// its own pair of goroutines, so no synchronization is needed
	// beyond g.Wait() before they are read.
	crs := make([]*receiver.CountingReceiver, len(names))
	probeSendTS := make([][]uint64, len(names))

	for i, name := range names {
		i, name, d := i, name, dirs[name]
		g.Go(func() error {
			if err := netio.PinCurrentThread(d.CPUCore); err != nil {
				e.Logger.Warn("numa/affinity pin failed", slog.String("direction", name), slog.String("error", err.Error()))
				report.Warnings = append(report.Warnings, "NumaMismatch: "+err.Error())
			}

			base := sender.StatelessParams{
				Foreground: d.Foreground,
				Background: d.Background,
				Queue:      d.Queue,
				Clock:      e.Clock,
				Rate:       uint32(e.Cfg.Rate),
				Duration:   uint32(e.Cfg.Duration),
				Mod:        uint32(e.Cfg.Mod),
				Threshold:  uint32(e.Cfg.Threshold),
				T0:         t0,
				SrcPort:    d.SrcPort,
				DstPort:    d.DstPort,
				IPSlice:    d.IPSlice,
				Rng:        permute.NewRand(),
			}

			var res sender.Result
			var err error
			if name == responderName {
				rs, rerr := sender.NewResponderSender(sender.ResponderParams{
					StatelessParams: base,
					Table:           table,
					Mode:            sender.ResponderTupleMode(e.Cfg.ResponderTupleMode),
					Rng:             base.Rng,
				})
				if rerr != nil {
					return fmt.Errorf("%w: %v", ErrInvalidConfiguration, rerr)
				}
				res, err = rs.Run(gctx)
			} else {
				ss, serr := sender.NewStatelessSender(base)
				if serr != nil {
					return fmt.Errorf("%w: %v", ErrInvalidConfiguration, serr)
				}
				res, err = ss.Run(gctx)
			}
			if err != nil {
				return err
			}

			if e.Metrics != nil {
				e.Metrics.IncFramesSent(name, "all", res.Sent)
				e.Metrics.SetRunInvalid(res.Invalid)
			}

			results <- outcome{name: name, sent: res.Sent, elapsed: res.Elapsed, invalid: res.Invalid}
			return nil
		})

		g.Go(func() error {
			pool := netio.NewBufferPool(2048)
			cr := &receiver.CountingReceiver{
				Queue:             d.Queue,
				Pool:              pool,
				Clock:             e.Clock,
				FinishAt:          finishAt,
				ForegroundVersion: d.ForegroundVersion,
			}
			if d.ProbeTemplate != nil && e.Cfg.K > 0 {
				cr.ProbeReceiveTS = make([]uint64, e.Cfg.K)
			}
			crs[i] = cr
			rr, err := cr.Run(gctx)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedProbe, err)
			}
			if e.Metrics != nil {
				e.Metrics.IncFramesReceived(name, "foreground", rr.Foreground)
				e.Metrics.IncFramesReceived(name, "background", rr.Background)
			}
			results <- outcome{name: name + "#recv", received: rr}
			return nil
		})

		if d.ProbeTemplate != nil && e.Cfg.K > 0 {
			g.Go(func() error {
				sendTS, err := runProbeOverlay(gctx, e.Clock, d.ProbeTemplate, d.Queue,
					uint32(e.Cfg.Rate), uint32(e.Cfg.Duration), uint32(e.Cfg.DelaySeconds), uint32(e.Cfg.K), t0)
				if err != nil {
					return fmt.Errorf("direction %q: probe overlay: %w", name, err)
				}
				probeSendTS[i] = sendTS
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	close(results)

	merged := map[string]DirectionReport{}
	for o := range results {
		base := merged[trimRecvSuffix(o.name)]
		if o.sent > 0 || o.elapsed > 0 {
			base.Sent = o.sent
			base.ElapsedSeconds = o.elapsed.Seconds()
			if o.invalid {
				report.Invalid = true
			}
		}
		if o.received.Foreground > 0 || o.received.Background > 0 {
			base.Received = o.received.Foreground + o.received.Background
		}
		merged[trimRecvSuffix(o.name)] = base
	}

	for i, name := range names {
		if crs[i] == nil || crs[i].ProbeReceiveTS == nil || probeSendTS[i] == nil {
			continue
		}
		penalty := latency.Penalty(uint32(e.Cfg.Duration), uint32(e.Cfg.DelaySeconds), uint32(e.Cfg.TimeoutMS))
		tl, wcl := latency.Evaluate(probeSendTS[i], crs[i].ProbeReceiveTS, pacing.Hz, penalty)
		d := merged[name]
		d.HasLatency = true
		d.TL, d.WCL = tl, wcl
		merged[name] = d
	}
	report.Directions = merged

	return nil
}

// runProbeOverlay sends k latency probes against tpl at the frame
// indices spec.md section 4.6 prescribes, paced against the same T0
// and rate as the ordinary measurement stream, returning each probe's
// departure tick indexed by probe id.
func runProbeOverlay(ctx context.Context, clock pacing.Clock, tpl *frame.Template, queue netio.Queue, rate, duration, delay, k uint32, t0 uint64) ([]uint64, error) {
	sendTS := make([]uint64, k)
	for i := uint32(0); i < k; i++ {
		select {
		case <-ctx.Done():
			return sendTS, nil
		default:
		}

		idx := latency.ProbeFrameIndex(i, k, rate, duration, delay)
		pacing.BusyWaitUntil(clock, pacing.Deadline(t0, idx, rate))

		tpl.SetProbeID(uint16(i))
		sendTS[i] = clock.Now()
		if err := queue.Send(tpl.Buf); err != nil {
			return sendTS, fmt.Errorf("send probe %d: %w", i, err)
		}
	}
	return sendTS, nil
}

func trimRecvSuffix(name string) string {
	const suffix = "#recv"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}
