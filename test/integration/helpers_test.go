// Package integration exercises the engine package end to end against
// spec.md section 8's invariant 6 and its end-to-end scenarios, using
// netio's in-process queues as the "ideal reflector" stand-in called
// for in SPEC_FULL.md section 8.A. The unit-level invariants (1, 2, 5
// in internal/frame and internal/sender; 3 in internal/latency; 4 in
// internal/statetable and internal/permute) are not repeated here.
package integration

import (
	"testing"

	"github.com/lencsegabor-port/siitperfgo/internal/frame"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
)

// reflectedQueue composes two LoopbackQueues into a single netio.Queue
// whose Send side and Recv side are distinct channels, so a Reflect
// goroutine wired between them models an external ideal reflector
// instead of a same-channel self-loop.
type reflectedQueue struct {
	out, in *netio.LoopbackQueue
}

func (q *reflectedQueue) Send(f []byte) error                 { return q.out.Send(f) }
func (q *reflectedQueue) RecvBatch(b [][]byte) ([]int, error) { return q.in.RecvBatch(b) }
func (q *reflectedQueue) Close() error                        { _ = q.out.Close(); return q.in.Close() }

// buildTemplate returns a fixed-port test frame template for the
// given IP version.
func buildTemplate(t *testing.T, ver int) *frame.Template {
	t.Helper()
	ip := make([]byte, 4)
	if ver == 6 {
		ip = make([]byte, 16)
	}
	tpl, err := frame.Build(frame.Params{
		IPVersion: ver, Length: 84,
		DstMAC: [6]byte{1, 2, 3, 4, 5, 6}, SrcMAC: [6]byte{6, 5, 4, 3, 2, 1},
		SrcIP: ip, DstIP: ip,
		SrcPort: frame.FixedSrcPort, DstPort: frame.FixedDstPort,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tpl
}

// buildProbeTemplate returns a latency-probe frame template (spec.md
// section 4.6) for the given IP version.
func buildProbeTemplate(t *testing.T, ver int) *frame.Template {
	t.Helper()
	ip := make([]byte, 4)
	if ver == 6 {
		ip = make([]byte, 16)
	}
	tpl, err := frame.Build(frame.Params{
		IPVersion: ver, Length: 84,
		DstMAC: [6]byte{1, 2, 3, 4, 5, 6}, SrcMAC: [6]byte{6, 5, 4, 3, 2, 1},
		SrcIP: ip, DstIP: ip,
		SrcPort: frame.FixedSrcPort, DstPort: frame.FixedDstPort,
		Probe: true,
	})
	if err != nil {
		t.Fatalf("Build probe template: %v", err)
	}
	return tpl
}
