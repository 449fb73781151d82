package sender

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lencsegabor-port/siitperfgo/internal/fourtuple"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
	"github.com/lencsegabor-port/siitperfgo/internal/pacing"
	"github.com/lencsegabor-port/siitperfgo/internal/statetable"
)

// ResponderTupleMode selects how the Responder sender picks a
// four-tuple for each outgoing foreground frame, per spec.md section
// 4.4: 0 reuse first entry, 1 forward walk, 2 reverse walk, 3 random.
type ResponderTupleMode int

const (
	ResponderTupleFirst ResponderTupleMode = iota
	ResponderTupleForward
	ResponderTupleReverse
	ResponderTupleRandom
)

// ResponderParams configures the measurement-phase sender of spec.md
// section 4.4.
type ResponderParams struct {
	StatelessParams // background-frame handling and pacing are shared

	Table *statetable.Table
	Mode  ResponderTupleMode
	Rng   *rand.Rand
}

// ResponderSender implements spec.md section 4.4: it reuses
// StatelessSender for background-frame port variation but overrides
// the foreground path to pull a learned four-tuple from the state
// table.
type ResponderSender struct {
	base *StatelessSender
	p    ResponderParams

	idx uint64 // forward/reverse walk cursor
}

// NewResponderSender validates p and returns a ready ResponderSender.
func NewResponderSender(p ResponderParams) (*ResponderSender, error) {
	base, err := NewStatelessSender(p.StatelessParams)
	if err != nil {
		return nil, err
	}
	if p.Table == nil || p.Table.Cap() == 0 {
		return nil, fmt.Errorf("sender: responder sender requires a populated state table")
	}
	return &ResponderSender{base: base, p: p}, nil
}

// Run executes the measurement phase: for each frame index, background
// frames take the stateless port-variation path (spec.md section 4.2);
// foreground IPv4 frames read a tuple from the table and splice it
// into the frame in bulk (spec.md section 4.4 steps a-e).
func (s *ResponderSender) Run(ctx context.Context) (Result, error) {
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
		if !foreground {
			tpl, err := s.base.nextTemplate(false)
			if err != nil {
				return Result{}, err
			}
			s.base.applyPortVariation(tpl)
			if err := s.p.Queue.Send(tpl.Buf); err != nil {
				return Result{Sent: sent, Elapsed: time.Since(start)}, err
			}
			sent++
			continue
		}

		tpl, err := s.base.nextTemplate(true)
		if err != nil {
			return Result{}, err
		}

		tuple := s.pickTuple()
		var srcIP, dstIP [4]byte
		be16put(srcIP[0:2], uint16(tuple.InitAddr>>16))
		be16put(srcIP[2:4], uint16(tuple.InitAddr))
		be16put(dstIP[0:2], uint16(tuple.RespAddr>>16))
		be16put(dstIP[2:4], uint16(tuple.RespAddr))

		tpl.SetIPv4Tuple(srcIP, dstIP, tuple.InitPort, tuple.RespPort)

		if err := s.p.Queue.Send(tpl.Buf); err != nil {
			return Result{Sent: sent, Elapsed: time.Since(start)}, err
		}
		sent++
	}

	elapsed := time.Since(start)
	nominal := time.Duration(float64(s.p.Duration) * float64(time.Second))
	invalid := elapsed > time.Duration(float64(nominal)*Tolerance)

	return Result{Sent: sent, Elapsed: elapsed, Invalid: invalid}, nil
}

func be16put(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func (s *ResponderSender) pickTuple() fourtuple.FourTuple {
	m := uint64(s.p.Table.Cap())
	switch s.p.Mode {
	case ResponderTupleForward:
		idx := s.idx % m
		s.idx++
		return s.p.Table.Get(idx)
	case ResponderTupleReverse:
		idx := (m - 1 - (s.idx % m)) % m
		s.idx++
		return s.p.Table.Get(idx)
	case ResponderTupleRandom:
		idx := uint64(s.p.Rng.Uint64N(m))
		return s.p.Table.Get(idx)
	default: // ResponderTupleFirst
		return s.p.Table.Get(0)
	}
}
