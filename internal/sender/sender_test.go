package sender

import (
	"context"
	"encoding/binary"
	"math/rand/v2"
	"testing"

	"github.com/lencsegabor-port/siitperfgo/internal/fourtuple"
	"github.com/lencsegabor-port/siitperfgo/internal/frame"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
	"github.com/lencsegabor-port/siitperfgo/internal/statetable"
)

// instantClock always reports a tick far past any deadline computed
// against a zero T0, so pacing.BusyWaitUntil never blocks: sends
// proceed as fast as the test can drive them, regardless of the
// configured rate.
type instantClock struct{}

func (instantClock) Now() uint64 { return ^uint64(0) }

func buildTestTemplate(t *testing.T, varSrc, varDst bool) *frame.Template {
	t.Helper()
	tpl, err := frame.Build(frame.Params{
		IPVersion:  6,
		Length:     84,
		DstMAC:     [6]byte{1, 2, 3, 4, 5, 6},
		SrcMAC:     [6]byte{6, 5, 4, 3, 2, 1},
		SrcIP:      make([]byte, 16),
		DstIP:      make([]byte, 16),
		SrcPort:    frame.FixedSrcPort,
		DstPort:    frame.FixedDstPort,
		VarSrcPort: varSrc,
		VarDstPort: varDst,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tpl
}

func singleSubnetSet(tpls ...*frame.Template) TemplateSet {
	return TemplateSet{Subnets: [][]*frame.Template{tpls}}
}

// TestS1FixedPortsSingleSubnet covers S1's frame count: with fixed
// ports and a single subnet, the sender transmits duration*rate frames.
func TestS1FixedPortsSingleSubnet(t *testing.T) {
	fg := buildTestTemplate(t, false, false)
	bg := buildTestTemplate(t, false, false)
	q := netio.NewLoopbackQueue(netio.QueueDepth)

	s, err := NewStatelessSender(StatelessParams{
		Foreground: singleSubnetSet(fg),
		Background: singleSubnetSet(bg),
		Queue:      q,
		Clock:      instantClock{},
		Rate:       1000,
		Duration:   5,
		Mod:        2,
		Threshold:  1,
		SrcPort:    PortRange{Min: frame.FixedSrcPort, Mode: PortFixed},
		DstPort:    PortRange{Min: frame.FixedDstPort, Mode: PortFixed},
	})
	if err != nil {
		t.Fatalf("NewStatelessSender: %v", err)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Sent != 5000 {
		t.Fatalf("sent = %d, want 5000", res.Sent)
	}
}

// TestS2IncreasingPorts covers S2: the first six foreground frames
// carry sports 1024,1025,1026,1024,1025,1026.
func TestS2IncreasingPorts(t *testing.T) {
	fg := buildTestTemplate(t, true, false)
	q := netio.NewLoopbackQueue(netio.QueueDepth)

	s, err := NewStatelessSender(StatelessParams{
		Foreground: singleSubnetSet(fg),
		Background: singleSubnetSet(buildTestTemplate(t, false, false)),
		Queue:      q,
		Clock:      instantClock{},
		Rate:       1000,
		Duration:   1,
		Mod:        1,
		Threshold:  1,
		SrcPort:    PortRange{Min: 1024, Max: 1026, Mode: PortIncreasing},
		DstPort:    PortRange{Min: frame.FixedDstPort, Mode: PortFixed},
	})
	if err != nil {
		t.Fatalf("NewStatelessSender: %v", err)
	}

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []uint16{1024, 1025, 1026, 1024, 1025, 1026}
	buf := make([]byte, 2048)
	for i, wantPort := range want {
		lens, err := q.RecvBatch([][]byte{buf})
		if err != nil || len(lens) != 1 {
			t.Fatalf("frame %d: RecvBatch = %v, %v", i, lens, err)
		}
		udpOff := frame.EthHeaderLen + frame.IPv6HeaderLen
		gotPort := binary.BigEndian.Uint16(buf[udpOff : udpOff+2])
		if gotPort != wantPort {
			t.Errorf("frame %d: sport = %d, want %d", i, gotPort, wantPort)
		}
	}
}

// TestResponderTupleModesStayWithinTable exercises S5's structural
// guarantee: every emitted foreground frame's tuple came from the
// table.
func TestResponderTupleModesStayWithinTable(t *testing.T) {
	for _, mode := range []ResponderTupleMode{ResponderTupleFirst, ResponderTupleForward, ResponderTupleReverse, ResponderTupleRandom} {
		v4, err := frame.Build(frame.Params{
			IPVersion: 4, Length: 84,
			DstMAC: [6]byte{1, 2, 3, 4, 5, 6}, SrcMAC: [6]byte{6, 5, 4, 3, 2, 1},
			SrcIP: []byte{10, 0, 0, 1}, DstIP: []byte{10, 0, 0, 2},
			SrcPort: frame.FixedSrcPort, DstPort: frame.FixedDstPort,
		})
		if err != nil {
			t.Fatal(err)
		}

		tbl := newFilledTable(t)
		q := netio.NewLoopbackQueue(netio.QueueDepth)

		rs, err := NewResponderSender(ResponderParams{
			StatelessParams: StatelessParams{
				Foreground: singleSubnetSet(v4),
				Background: singleSubnetSet(buildTestTemplate(t, false, false)),
				Queue:      q,
				Clock:      instantClock{},
				Rate:       10,
				Duration:   1,
				Mod:        1,
				Threshold:  1,
				SrcPort:    PortRange{Min: frame.FixedSrcPort, Mode: PortFixed},
				DstPort:    PortRange{Min: frame.FixedDstPort, Mode: PortFixed},
			},
			Table: tbl,
			Mode:  mode,
			Rng:   rand.New(rand.NewPCG(1, 2)),
		})
		if err != nil {
			t.Fatalf("mode %v: NewResponderSender: %v", mode, err)
		}
		if _, err := rs.Run(context.Background()); err != nil {
			t.Fatalf("mode %v: Run: %v", mode, err)
		}

		ipOff := frame.EthHeaderLen
		udpOff := frame.EthHeaderLen + frame.IPv4HeaderLen
		buf := make([]byte, 2048)
		for {
			lens, err := q.RecvBatch([][]byte{buf})
			if err != nil || len(lens) == 0 {
				break
			}
			src, dst := binary.BigEndian.Uint32(buf[ipOff+12:]), binary.BigEndian.Uint32(buf[ipOff+16:])
			sport, dport := binary.BigEndian.Uint16(buf[udpOff:]), binary.BigEndian.Uint16(buf[udpOff+2:])
			if src != 0x0A000001 || dst != 0x0A000002 || sport != frame.FixedSrcPort || dport < frame.FixedDstPort || dport >= frame.FixedDstPort+4 {
				t.Errorf("mode %v: frame tuple %08x:%d -> %08x:%d is not in the table", mode, src, sport, dst, dport)
			}
		}
	}
}

func newFilledTable(t *testing.T) *statetable.Table {
	t.Helper()
	tbl := statetable.New(4)
	for i := uint32(0); i < 4; i++ {
		tbl.Put(fourtuple.FourTuple{
			InitAddr: 0x0A000001,
			RespAddr: 0x0A000002,
			InitPort: frame.FixedSrcPort,
			RespPort: frame.FixedDstPort + uint16(i),
		})
	}
	return tbl
}
