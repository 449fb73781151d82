// Package receiver implements the counting receiver and the
// responder's learning receiver described in spec.md sections 4.5 and
// 4.7: classify, validate, and count incoming frames from T0 (or
// T0_pre) until finish_receiving.
package receiver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lencsegabor-port/siitperfgo/internal/fourtuple"
	"github.com/lencsegabor-port/siitperfgo/internal/frame"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
	"github.com/lencsegabor-port/siitperfgo/internal/pacing"
	"github.com/lencsegabor-port/siitperfgo/internal/statetable"
)

// Classify validates a received frame per spec.md section 4.5's
// byte-offset table and returns whether it is an ordinary (non-probe)
// test frame and its IP version. A non-matching frame is silently
// dropped by the caller, per spec.md's error-handling design.
func Classify(buf []byte) (valid bool, ipVersion int) {
	if len(buf) < frame.EthHeaderLen+2 {
		return false, 0
	}
	etherType := binary.BigEndian.Uint16(buf[12:14])

	switch etherType {
	case frame.EtherTypeIPv4:
		off, _ := frame.TagOffset(4)
		protoOff, _ := frame.ProtoOffset(4)
		if len(buf) < off+8 {
			return false, 0
		}
		if buf[protoOff] != frame.ProtoUDP {
			return false, 0
		}
		if string(buf[off:off+8]) != frame.IdentifierTag {
			return false, 0
		}
		return true, 4
	case frame.EtherTypeIPv6:
		off, _ := frame.TagOffset(6)
		protoOff, _ := frame.ProtoOffset(6)
		if len(buf) < off+8 {
			return false, 0
		}
		if buf[protoOff] != frame.ProtoUDP {
			return false, 0
		}
		if string(buf[off:off+8]) != frame.IdentifierTag {
			return false, 0
		}
		return true, 6
	default:
		return false, 0
	}
}

// ClassifyProbe validates a latency-probe frame and extracts its probe
// id, per spec.md section 4.6. An out-of-range id is the caller's
// responsibility to treat as the fatal MalformedProbe error kind
// (spec.md section 7).
func ClassifyProbe(buf []byte) (valid bool, ipVersion int, probeID uint16) {
	if len(buf) < frame.EthHeaderLen+2 {
		return false, 0, 0
	}
	etherType := binary.BigEndian.Uint16(buf[12:14])

	var off int
	switch etherType {
	case frame.EtherTypeIPv4:
		off, _ = frame.TagOffset(4)
		ipVersion = 4
	case frame.EtherTypeIPv6:
		off, _ = frame.TagOffset(6)
		ipVersion = 6
	default:
		return false, 0, 0
	}
	if len(buf) < off+10 {
		return false, 0, 0
	}
	if string(buf[off:off+8]) != frame.ProbeTag {
		return false, 0, 0
	}
	return true, ipVersion, binary.BigEndian.Uint16(buf[off+8 : off+10])
}

// Result is the counting receiver's outcome, feeding spec.md section
// 6's "number of frames received" reported output.
type Result struct {
	Foreground uint64
	Background uint64
}

// CountingReceiver implements spec.md section 4.5's receiver: classify,
// validate, and count; accepted buffers are returned to the pool.
type CountingReceiver struct {
	Queue    netio.Queue
	Pool     *netio.BufferPool
	Clock    pacing.Clock
	FinishAt uint64
	// ForegroundVersion is 4 or 6: the IP version this direction
	// treats as foreground, per spec.md section 4.5 ("may be either").
	ForegroundVersion int

	// ProbeReceiveTS, when non-nil, records each latency probe's
	// arrival tick by probe id (spec.md section 4.6). A probe id
	// outside its bounds makes Run return ErrMalformedProbe.
	ProbeReceiveTS []uint64
}

// ErrMalformedProbe means a received frame carried the probe tag but
// an out-of-range probe id, per spec.md section 7: a fatal condition,
// since writing at that id would corrupt memory rather than merely
// miscount.
var ErrMalformedProbe = errors.New("receiver: probe id out of range")

// Run receives until Clock.Now() >= FinishAt (spec.md section 4.7:
// "transition to Done is time-triggered"), returning the accumulated
// counts. It returns ErrMalformedProbe if a probe frame's id falls
// outside ProbeReceiveTS's bounds.
func (r *CountingReceiver) Run(ctx context.Context) (Result, error) {
	var res Result
	buf := r.Pool.Get()
	defer r.Pool.Put(buf)

	for {
		select {
		case <-ctx.Done():
			return res, nil
		default:
		}

		lens, err := r.Queue.RecvBatch([][]byte{*buf})
		if err == nil {
			for _, n := range lens {
				frameBuf := (*buf)[:n]
				valid, ver := Classify(frameBuf)
				if valid {
					if ver == r.ForegroundVersion {
						res.Foreground++
					} else {
						res.Background++
					}
					continue
				}
				if r.ProbeReceiveTS == nil {
					continue
				}
				if pvalid, _, id := ClassifyProbe(frameBuf); pvalid {
					if int(id) >= len(r.ProbeReceiveTS) {
						return res, fmt.Errorf("%w: id %d, want < %d", ErrMalformedProbe, id, len(r.ProbeReceiveTS))
					}
					r.ProbeReceiveTS[id] = r.Clock.Now()
				}
			}
		}

		if r.Clock.Now() >= r.FinishAt {
			return res, nil
		}
	}
}

// ResponderReceiver implements the preliminary-phase learning receiver
// of spec.md section 4.5: for each accepted IPv4 foreground frame it
// reads the four-tuple directly from the frame bytes (already network
// order) and stores it atomically in the ring.
type ResponderReceiver struct {
	Queue    netio.Queue
	Pool     *netio.BufferPool
	Clock    pacing.Clock
	FinishAt uint64
	Table    *statetable.Table
}

// Run learns four-tuples until Clock.Now() >= FinishAt, returning the
// total number of foreground frames received (ValidEntries is then
// min(that, Table.Cap()) per spec.md section 4.5).
func (r *ResponderReceiver) Run(ctx context.Context) Result {
	var res Result
	buf := r.Pool.Get()
	defer r.Pool.Put(buf)

	for {
		select {
		case <-ctx.Done():
			return res
		default:
		}

		lens, err := r.Queue.RecvBatch([][]byte{*buf})
		if err == nil {
			for _, n := range lens {
				frameBuf := (*buf)[:n]
				valid, ver := Classify(frameBuf)
				if !valid {
					continue
				}
				if ver != 4 {
					res.Background++
					continue
				}

				off := frame.EthHeaderLen
				srcIP := binary.BigEndian.Uint32(frameBuf[off+12 : off+16])
				dstIP := binary.BigEndian.Uint32(frameBuf[off+16 : off+20])
				udpOff := off + frame.IPv4HeaderLen
				sport := binary.BigEndian.Uint16(frameBuf[udpOff : udpOff+2])
				dport := binary.BigEndian.Uint16(frameBuf[udpOff+2 : udpOff+4])

				r.Table.Put(fourtuple.FourTuple{
					InitAddr: srcIP, RespAddr: dstIP,
					InitPort: sport, RespPort: dport,
				})
				res.Foreground++
			}
		}

		if r.Clock.Now() >= r.FinishAt {
			return res
		}
	}
}
