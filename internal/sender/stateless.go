// Package sender implements the three sender roles of spec.md section
// 4: the stateless sender (4.2), the initiator sender (4.3), and the
// responder sender (4.4). All three share the same pacing discipline
// (spec.md section 4.2 step 1) and template-rotation bookkeeping
// (spec.md section 3).
package sender

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lencsegabor-port/siitperfgo/internal/frame"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
	"github.com/lencsegabor-port/siitperfgo/internal/pacing"
)

// PortVariationMode is the per-field port-variation policy from
// spec.md section 6: 0 fixed, 1 increasing, 2 decreasing, 3 random.
type PortVariationMode int

const (
	PortFixed PortVariationMode = iota
	PortIncreasing
	PortDecreasing
	PortRandom
)

// Tolerance is TOLERANCE from spec.md's Glossary and SPEC_FULL.md
// section 3.A: the fractional overrun of the nominal transmission
// window accepted as valid.
const Tolerance = 1.00001

// TemplateSet holds the N-copy rotation of a template, one array per
// destination subnet, per spec.md section 3 ("Template arrays").
type TemplateSet struct {
	// Subnets[i] is the rotation array for destination subnet i.
	Subnets [][]*frame.Template
}

// RotationLen returns N, the number of physical copies per subnet.
func (s *TemplateSet) RotationLen() int {
	if len(s.Subnets) == 0 {
		return 0
	}
	return len(s.Subnets[0])
}

// PortRange is an inclusive [Min,Max] range for a variable port field.
type PortRange struct {
	Min, Max uint16
	Mode     PortVariationMode
}

// IPSliceRange is an inclusive [Min,Max] range and variation mode for
// a template's 16-bit IP-address slice (spec.md section 4.2's
// multi-IP variant). The same range drives both the source and
// destination slice handles, since a side's configuration carries a
// single IP-slice variation setting.
type IPSliceRange struct {
	Min, Max uint16
	Mode     PortVariationMode
}

// StatelessParams configures a StatelessSender per spec.md section 4.2.
type StatelessParams struct {
	Foreground TemplateSet
	Background TemplateSet

	Queue netio.Queue
	Clock pacing.Clock

	// Rate is the target frame rate in frames/second.
	Rate uint32
	// Duration is the run length in whole seconds.
	Duration uint32
	// N, M are the foreground modulus (n) and threshold (m): a frame
	// at index k is foreground iff (k mod n) < m.
	Mod, Threshold uint32
	// T0 is the common start deadline, in pacing.Clock units.
	T0 uint64

	SrcPort PortRange
	DstPort PortRange

	// IPSlice drives the per-frame IP-slice mutation applied to both
	// the source and destination templates' SrcIPSlice/DstIPSlice
	// handles, before port variation (spec.md section 4.2).
	IPSlice IPSliceRange

	// Rng drives random port selection, random IP-slice selection, and
	// random subnet selection; must be non-nil if any port or IP-slice
	// range uses the random mode, or more than one destination subnet
	// is configured.
	Rng *rand.Rand
}

// Result is the outcome of a sender run, feeding spec.md section 6's
// reported outputs.
type Result struct {
	Sent    uint64
	Elapsed time.Duration
	// Invalid is set when the run overran Duration*Tolerance — a
	// PacingViolation per spec.md section 7, always reported as a
	// warning with this flag set, never fatal (SPEC_FULL.md section
	// 9's resolved open question).
	Invalid bool
}

// StatelessSender implements spec.md section 4.2.
type StatelessSender struct {
	p StatelessParams

	fgRotation, bgRotation []int
	sportCur, dportCur     uint16
	sportInit              bool

	srcSliceCur, dstSliceCur uint16
	sliceInit                bool
}

// NewStatelessSender validates p and returns a ready StatelessSender.
func NewStatelessSender(p StatelessParams) (*StatelessSender, error) {
	if p.Mod == 0 {
		return nil, fmt.Errorf("sender: modulus n must be >= 2, got %d", p.Mod)
	}
	if p.Threshold > p.Mod {
		return nil, fmt.Errorf("sender: threshold m (%d) must be <= n (%d)", p.Threshold, p.Mod)
	}
	s := &StatelessSender{
		p:          p,
		fgRotation: make([]int, len(p.Foreground.Subnets)),
		bgRotation: make([]int, len(p.Background.Subnets)),
	}
	return s, nil
}

// Run executes the full send cycle and returns when frames_to_send
// have been transmitted (or ctx is cancelled).
func (s *StatelessSender) Run(ctx context.Context) (Result, error) {
	framesToSend := uint64(s.p.Duration) * uint64(s.p.Rate)
	start := time.Now()

	var sent uint64
	for k := uint64(0); k < framesToSend; k++ {
		select {
		case <-ctx.Done():
			return Result{Sent: sent, Elapsed: time.Since(start)}, ctx.Err()
		default:
		}

		pacing.BusyWaitUntil(s.p.Clock, pacing.Deadline(s.p.T0, k, s.p.Rate))

		foreground := (k % uint64(s.p.Mod)) < uint64(s.p.Threshold)

		tpl, err := s.nextTemplate(foreground)
		if err != nil {
			return Result{}, err
		}

		s.applyIPSliceVariation(tpl)
		s.applyPortVariation(tpl)

		if err := s.p.Queue.Send(tpl.Buf); err != nil {
			return Result{Sent: sent, Elapsed: time.Since(start)}, fmt.Errorf("sender: send frame %d: %w", k, err)
		}
		sent++
	}

	elapsed := time.Since(start)
	nominal := time.Duration(float64(s.p.Duration) * float64(time.Second))
	invalid := elapsed > time.Duration(float64(nominal)*Tolerance)

	return Result{Sent: sent, Elapsed: elapsed, Invalid: invalid}, nil
}

func (s *StatelessSender) nextTemplate(foreground bool) (*frame.Template, error) {
	set := &s.p.Background
	rotIdx := s.bgRotation
	if foreground {
		set = &s.p.Foreground
		rotIdx = s.fgRotation
	}
	if len(set.Subnets) == 0 {
		return nil, fmt.Errorf("sender: no templates configured for foreground=%v", foreground)
	}
	subnet := 0
	if len(set.Subnets) > 1 {
		subnet = s.p.Rng.IntN(len(set.Subnets))
	}
	n := len(set.Subnets[subnet])
	idx := rotIdx[subnet] % n
	rotIdx[subnet] = (rotIdx[subnet] + 1) % n
	return set.Subnets[subnet][idx], nil
}

// applyPortVariation implements spec.md section 4.2 step 4: for each
// varying port field, apply the configured mode and write the result
// with an incrementally updated checksum.
func (s *StatelessSender) applyPortVariation(tpl *frame.Template) {
	if s.p.SrcPort.Mode == PortFixed && s.p.DstPort.Mode == PortFixed {
		return
	}
	if !s.sportInit {
		// The cursor is advanced before each send, so an increasing
		// field starts at Max and wraps to Min on the first frame.
		s.sportCur = s.p.SrcPort.Min
		s.dportCur = s.p.DstPort.Min
		if s.p.SrcPort.Mode == PortIncreasing {
			s.sportCur = s.p.SrcPort.Max
		}
		if s.p.DstPort.Mode == PortIncreasing {
			s.dportCur = s.p.DstPort.Max
		}
		s.sportInit = true
	}

	sport := s.sportCur
	dport := s.dportCur
	sport = nextPortValue(s.p.SrcPort, sport, s.p.Rng)
	dport = nextPortValue(s.p.DstPort, dport, s.p.Rng)
	s.sportCur, s.dportCur = sport, dport

	tpl.SetPorts(sport, dport)
}

// applyIPSliceVariation implements spec.md section 4.2's multi-IP
// variant: for each varying IP-slice field, apply the configured mode
// and write the result with an incrementally updated checksum. Runs
// before applyPortVariation, per spec.md section 4.2's ordering.
func (s *StatelessSender) applyIPSliceVariation(tpl *frame.Template) {
	if s.p.IPSlice.Mode == PortFixed {
		return
	}
	if !s.sliceInit {
		s.srcSliceCur = s.p.IPSlice.Min
		s.dstSliceCur = s.p.IPSlice.Min
		s.sliceInit = true
	}

	r := PortRange{Min: s.p.IPSlice.Min, Max: s.p.IPSlice.Max, Mode: s.p.IPSlice.Mode}
	s.srcSliceCur = nextPortValue(r, s.srcSliceCur, s.p.Rng)
	s.dstSliceCur = nextPortValue(r, s.dstSliceCur, s.p.Rng)

	if tpl.SrcIPSlice.Size != 0 {
		tpl.SetIPSlice(tpl.SrcIPSlice, s.srcSliceCur)
	}
	if tpl.DstIPSlice.Size != 0 {
		tpl.SetIPSlice(tpl.DstIPSlice, s.dstSliceCur)
	}
}

func nextPortValue(r PortRange, cur uint16, rng *rand.Rand) uint16 {
	switch r.Mode {
	case PortIncreasing:
		if cur >= r.Max {
			return r.Min
		}
		return cur + 1
	case PortDecreasing:
		if cur <= r.Min {
			return r.Max
		}
		return cur - 1
	case PortRandom:
		span := int(r.Max) - int(r.Min) + 1
		return r.Min + uint16(rng.IntN(span))
	default:
		return cur
	}
}
