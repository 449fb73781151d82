package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/lencsegabor-port/siitperfgo/internal/frame"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
	"github.com/lencsegabor-port/siitperfgo/internal/pacing"
	"github.com/lencsegabor-port/siitperfgo/internal/permute"
)

// EnumerateMode is the port/IP enumeration policy for the preliminary
// phase, per spec.md section 4.3: 0 none, 1 increasing, 2 decreasing,
// 3 random-permutation.
type EnumerateMode int

const (
	EnumerateNone EnumerateMode = iota
	EnumerateIncreasing
	EnumerateDecreasing
	EnumeratePermutation
)

// InitiatorParams configures the preliminary-phase sender of spec.md
// section 4.3. Only IPv4 four-tuples are supported, matching the
// "stateful IPv6 variants not supported" non-goal in spec.md section
// 1.
type InitiatorParams struct {
	Template *frame.Template // single-subnet IPv4 template, ports zeroed
	Queue    netio.Queue
	Clock    pacing.Clock

	SrcIP, DstIP [4]byte

	// N is the number of preliminary frames to send.
	N uint32
	// Rate is the preliminary phase's own target rate R.
	Rate uint32
	// T0 is the preliminary phase's own start deadline T0_pre.
	T0 uint64

	Mode       EnumerateMode
	SportRange [2]uint16
	DportRange [2]uint16

	// Permutation is required when Mode == EnumeratePermutation; it
	// must have at least N elements remaining.
	Permutation *permute.Sequence[permute.Pair]
}

// InitiatorSender implements spec.md section 4.3.
type InitiatorSender struct {
	p       InitiatorParams
	sp, dp  uint16
	started bool
}

// NewInitiatorSender validates p and returns a ready InitiatorSender.
func NewInitiatorSender(p InitiatorParams) (*InitiatorSender, error) {
	if p.Mode == EnumeratePermutation {
		if p.Permutation == nil || uint32(p.Permutation.Remaining()) < p.N {
			return nil, fmt.Errorf("sender: permutation sequence has %d remaining, need %d", permRemaining(p.Permutation), p.N)
		}
	}
	return &InitiatorSender{p: p}, nil
}

func permRemaining(s *permute.Sequence[permute.Pair]) int {
	if s == nil {
		return 0
	}
	return s.Remaining()
}

// Run emits N preliminary frames with unique four-tuples, per spec.md
// section 4.3, pacing each against T0_pre and the preliminary rate R.
func (s *InitiatorSender) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var sent uint64

	for k := uint32(0); k < s.p.N; k++ {
		select {
		case <-ctx.Done():
			return Result{Sent: sent, Elapsed: time.Since(start)}, ctx.Err()
		default:
		}

		pacing.BusyWaitUntil(s.p.Clock, pacing.Deadline(s.p.T0, uint64(k), s.p.Rate))

		sport, dport := s.next()
		s.p.Template.SetIPv4Tuple(s.p.SrcIP, s.p.DstIP, sport, dport)

		if err := s.p.Queue.Send(s.p.Template.Buf); err != nil {
			return Result{Sent: sent, Elapsed: time.Since(start)}, fmt.Errorf("initiator: send frame %d: %w", k, err)
		}
		sent++
	}

	return Result{Sent: sent, Elapsed: time.Since(start)}, nil
}

func (s *InitiatorSender) next() (uint16, uint16) {
	switch s.p.Mode {
	case EnumeratePermutation:
		pair := s.p.Permutation.Next()
		return pair.Low, pair.High
	case EnumerateIncreasing, EnumerateDecreasing:
		return s.enumerateCounter()
	default:
		return s.p.SportRange[0], s.p.DportRange[0]
	}
}

// enumerateCounter implements spec.md section 4.3's low-order=sport,
// high-order=dport counter enumeration, counting up or down across
// the full (sport,dport) Cartesian product.
func (s *InitiatorSender) enumerateCounter() (uint16, uint16) {
	sMin, sMax := s.p.SportRange[0], s.p.SportRange[1]
	dMin, dMax := s.p.DportRange[0], s.p.DportRange[1]

	if !s.started {
		s.started = true
		if s.p.Mode == EnumerateIncreasing {
			s.sp, s.dp = sMin, dMin
		} else {
			s.sp, s.dp = sMax, dMax
		}
		return s.sp, s.dp
	}

	if s.p.Mode == EnumerateIncreasing {
		if s.sp < sMax {
			s.sp++
		} else {
			s.sp = sMin
			if s.dp < dMax {
				s.dp++
			} else {
				s.dp = dMin
			}
		}
	} else {
		if s.sp > sMin {
			s.sp--
		} else {
			s.sp = sMax
			if s.dp > dMin {
				s.dp--
			} else {
				s.dp = dMax
			}
		}
	}
	return s.sp, s.dp
}
