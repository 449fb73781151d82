package frame

import (
	"encoding/binary"
	"fmt"
)

// Handle is a bounds-checked, stable view over a 2-byte variable field
// inside a template buffer: an offset and size, never a naked pointer,
// per the raw-byte-offset design note.
type Handle struct {
	Offset int
	Size   int
}

// Get returns the handle's bytes within buf.
func (h Handle) Get(buf []byte) []byte { return buf[h.Offset : h.Offset+h.Size] }

// Uint16 reads the handle as a big-endian uint16.
func (h Handle) Uint16(buf []byte) uint16 { return binary.BigEndian.Uint16(h.Get(buf)) }

// PutUint16 writes v into the handle as big-endian.
func (h Handle) PutUint16(buf []byte, v uint16) { binary.BigEndian.PutUint16(h.Get(buf), v) }

// Template is a frozen frame skeleton plus the variable-field handles and
// cached checksum base described in spec.md section 3 ("Frame
// template"). The handles for source/destination UDP ports are
// zero-valued Handles when the corresponding port is not variable for
// this template; the IP header checksum handle is set for every IPv4
// template and zero-valued for IPv6.
//
// ChecksumBase is the uncomplemented one's-complement UDP checksum sum
// computed at build time with the variable port fields set to zero: it
// covers the pseudo-header (including the current IP addresses), the
// UDP length, any fixed port and the payload. SetIPSlice folds address
// changes into it. SetPorts reproduces the on-wire checksum by adding
// the new port values to ChecksumBase and finalizing — it never needs
// to track what was written on a prior send, because ChecksumBase never
// included the variable ports to begin with.
type Template struct {
	Buf        []byte
	IPVersion  int
	SrcIPSlice Handle
	DstIPSlice Handle
	IPChecksum Handle
	SrcPort    Handle
	DstPort    Handle
	UDPChecksum Handle
	// ProbeID is the zero-valued Handle for non-probe templates; set
	// only when the template was built with Params.Probe, per spec.md
	// section 4.6's probe-id payload field.
	ProbeID Handle

	ChecksumBase uint32

	srcIP []byte
	dstIP []byte
}

// Params describes one frame to build. SrcPort/DstPort carry the
// fixed values from spec.md section 4.1 when the corresponding
// Var{Src,Dst}Port flag is false; when true the field is written as
// zero and exposed via the returned Template's handle for per-frame
// mutation.
type Params struct {
	IPVersion int
	Length    int // on-wire length including the 4-byte FCS
	DstMAC    [6]byte
	SrcMAC    [6]byte
	SrcIP     []byte // 4 or 16 bytes, matching IPVersion
	DstIP     []byte

	SrcPort, DstPort       uint16
	VarSrcPort, VarDstPort bool

	// IPSliceOffset is the byte offset of the 16-bit variable IP slice
	// within the source/destination address (spec.md section 4.2),
	// clamped to the address's valid range. Zero selects the address's
	// first two bytes.
	IPSliceOffset int

	// Probe marks a latency-probe frame: the payload tag becomes
	// ProbeTag and bytes 8-9 carry ProbeID.
	Probe   bool
	ProbeID uint16
}

// Build constructs a test frame per spec.md section 4.1: Ethernet
// header, IPv4 or IPv6 header (TTL/hop-limit 10, next-header UDP),
// UDP header, and an identifying payload, then computes the UDP and
// (for IPv4) IP header checksums. It returns the frozen Template with
// ChecksumBase seeded so a sender can mutate the variable fields
// in-place without a from-scratch recompute.
func Build(p Params) (*Template, error) {
	switch p.IPVersion {
	case 4:
		return build4(p)
	case 6:
		return build6(p)
	default:
		return nil, fmt.Errorf("frame: invalid IP version %d", p.IPVersion)
	}
}

func writeEthHeader(buf []byte, dstMAC, srcMAC [6]byte, etherType uint16) {
	copy(buf[0:6], dstMAC[:])
	copy(buf[6:12], srcMAC[:])
	binary.BigEndian.PutUint16(buf[12:14], etherType)
}

func writePayload(buf []byte, probe bool, probeID uint16) {
	if probe {
		copy(buf[0:8], ProbeTag)
		binary.BigEndian.PutUint16(buf[8:10], probeID)
		for i := 10; i < len(buf); i++ {
			buf[i] = byte(i % 256)
		}
		return
	}
	copy(buf[0:8], IdentifierTag)
	for i := 8; i < len(buf); i++ {
		buf[i] = byte(i % 256)
	}
}

func build4(p Params) (*Template, error) {
	n, err := FrameLen(4, 0)
	if err != nil {
		return nil, err
	}
	frameLen := p.Length - FCSLen
	if frameLen < n-FCSLen {
		return nil, fmt.Errorf("frame: length %d too small for IPv4 test frame", p.Length)
	}
	buf := make([]byte, frameLen)

	writeEthHeader(buf, p.DstMAC, p.SrcMAC, EtherTypeIPv4)

	ipHdr := buf[EthHeaderLen : EthHeaderLen+IPv4HeaderLen]
	udpSegment := buf[EthHeaderLen+IPv4HeaderLen:]
	payload := udpSegment[UDPHeaderLen:]

	writePayload(payload, p.Probe, p.ProbeID)

	totalLen := IPv4HeaderLen + len(udpSegment)
	ipHdr[0] = 0x45 // version 4, IHL 5
	ipHdr[1] = 0    // traffic class
	binary.BigEndian.PutUint16(ipHdr[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(ipHdr[4:6], 0) // identification
	binary.BigEndian.PutUint16(ipHdr[6:8], 0) // flags/fragment offset
	ipHdr[8] = TTLOrHopLimit
	ipHdr[9] = ProtoUDP
	binary.BigEndian.PutUint16(ipHdr[10:12], 0) // checksum placeholder
	copy(ipHdr[12:16], p.SrcIP)
	copy(ipHdr[16:20], p.DstIP)

	srcPort, dstPort := p.SrcPort, p.DstPort
	if p.VarSrcPort {
		srcPort = 0
	}
	if p.VarDstPort {
		dstPort = 0
	}
	binary.BigEndian.PutUint16(udpSegment[0:2], srcPort)
	binary.BigEndian.PutUint16(udpSegment[2:4], dstPort)
	binary.BigEndian.PutUint16(udpSegment[4:6], uint16(len(udpSegment)))
	binary.BigEndian.PutUint16(udpSegment[6:8], 0) // checksum placeholder

	var srcIP4, dstIP4 [4]byte
	copy(srcIP4[:], p.SrcIP)
	copy(dstIP4[:], p.DstIP)

	udpChecksum := udpChecksumIPv4(srcIP4, dstIP4, udpSegment)
	binary.BigEndian.PutUint16(udpSegment[6:8], udpChecksum)

	ipChecksum := ipv4HeaderChecksum(ipHdr)
	binary.BigEndian.PutUint16(ipHdr[10:12], ipChecksum)

	sliceOff := clampSliceOffset(p.IPSliceOffset, 4)
	tpl := &Template{
		Buf:         buf,
		IPVersion:   4,
		SrcIPSlice:  Handle{EthHeaderLen + 12 + sliceOff, 2},
		DstIPSlice:  Handle{EthHeaderLen + 16 + sliceOff, 2},
		IPChecksum:  Handle{EthHeaderLen + 10, 2},
		UDPChecksum: Handle{EthHeaderLen + IPv4HeaderLen + 6, 2},
		srcIP:       append([]byte(nil), p.SrcIP...),
		dstIP:       append([]byte(nil), p.DstIP...),
	}
	if p.VarSrcPort {
		tpl.SrcPort = Handle{EthHeaderLen + IPv4HeaderLen + 0, 2}
	}
	if p.VarDstPort {
		tpl.DstPort = Handle{EthHeaderLen + IPv4HeaderLen + 2, 2}
	}
	if p.Probe {
		tpl.ProbeID = Handle{EthHeaderLen + IPv4HeaderLen + UDPHeaderLen + 8, 2}
	}

	base := sum16(buildPseudoHeaderV4(srcIP4, dstIP4, len(udpSegment)))
	base += sum16(udpSegment[4:6]) // length field, never varies
	if !p.VarSrcPort {
		base = AddField(base, srcPort)
	}
	if !p.VarDstPort {
		base = AddField(base, dstPort)
	}
	base = AddField(base, binary.BigEndian.Uint16(payload[0:2]))
	base += sum16(payload[2:])
	tpl.ChecksumBase = base

	return tpl, nil
}

// clampSliceOffset bounds a configured IP-slice byte offset to a valid
// 2-byte window within an address of addrLen bytes.
func clampSliceOffset(off, addrLen int) int {
	if off < 0 {
		return 0
	}
	if off > addrLen-2 {
		return addrLen - 2
	}
	return off
}

func buildPseudoHeaderV4(srcIP, dstIP [4]byte, udpLen int) []byte {
	var pseudo [12]byte
	copy(pseudo[0:4], srcIP[:])
	copy(pseudo[4:8], dstIP[:])
	pseudo[9] = ProtoUDP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(udpLen))
	return pseudo[:]
}

func build6(p Params) (*Template, error) {
	n, err := FrameLen(6, 0)
	if err != nil {
		return nil, err
	}
	frameLen := p.Length - FCSLen
	if frameLen < n-FCSLen {
		return nil, fmt.Errorf("frame: length %d too small for IPv6 test frame", p.Length)
	}
	buf := make([]byte, frameLen)

	writeEthHeader(buf, p.DstMAC, p.SrcMAC, EtherTypeIPv6)

	ipHdr := buf[EthHeaderLen : EthHeaderLen+IPv6HeaderLen]
	udpSegment := buf[EthHeaderLen+IPv6HeaderLen:]
	payload := udpSegment[UDPHeaderLen:]

	writePayload(payload, p.Probe, p.ProbeID)

	// version 6, traffic class 0, flow label 0
	ipHdr[0] = 0x60
	binary.BigEndian.PutUint16(ipHdr[4:6], uint16(len(udpSegment)))
	ipHdr[6] = ProtoUDP
	ipHdr[7] = TTLOrHopLimit
	copy(ipHdr[8:24], p.SrcIP)
	copy(ipHdr[24:40], p.DstIP)

	srcPort, dstPort := p.SrcPort, p.DstPort
	if p.VarSrcPort {
		srcPort = 0
	}
	if p.VarDstPort {
		dstPort = 0
	}
	binary.BigEndian.PutUint16(udpSegment[0:2], srcPort)
	binary.BigEndian.PutUint16(udpSegment[2:4], dstPort)
	binary.BigEndian.PutUint16(udpSegment[4:6], uint16(len(udpSegment)))
	binary.BigEndian.PutUint16(udpSegment[6:8], 0)

	var srcIP6, dstIP6 [16]byte
	copy(srcIP6[:], p.SrcIP)
	copy(dstIP6[:], p.DstIP)

	udpChecksum := udpChecksumIPv6(srcIP6, dstIP6, udpSegment)
	binary.BigEndian.PutUint16(udpSegment[6:8], udpChecksum)

	sliceOff := clampSliceOffset(p.IPSliceOffset, 16)
	tpl := &Template{
		Buf:         buf,
		IPVersion:   6,
		SrcIPSlice:  Handle{EthHeaderLen + 8 + sliceOff, 2},
		DstIPSlice:  Handle{EthHeaderLen + 24 + sliceOff, 2},
		UDPChecksum: Handle{EthHeaderLen + IPv6HeaderLen + 6, 2},
		srcIP:       append([]byte(nil), p.SrcIP...),
		dstIP:       append([]byte(nil), p.DstIP...),
	}
	if p.VarSrcPort {
		tpl.SrcPort = Handle{EthHeaderLen + IPv6HeaderLen + 0, 2}
	}
	if p.VarDstPort {
		tpl.DstPort = Handle{EthHeaderLen + IPv6HeaderLen + 2, 2}
	}
	if p.Probe {
		tpl.ProbeID = Handle{EthHeaderLen + IPv6HeaderLen + UDPHeaderLen + 8, 2}
	}

	base := sum16(buildPseudoHeaderV6(srcIP6, dstIP6, len(udpSegment)))
	base += sum16(udpSegment[4:6])
	if !p.VarSrcPort {
		base = AddField(base, srcPort)
	}
	if !p.VarDstPort {
		base = AddField(base, dstPort)
	}
	base = AddField(base, binary.BigEndian.Uint16(payload[0:2]))
	base += sum16(payload[2:])
	tpl.ChecksumBase = base

	return tpl, nil
}

func buildPseudoHeaderV6(srcIP, dstIP [16]byte, udpLen int) []byte {
	var pseudo [40]byte
	copy(pseudo[0:16], srcIP[:])
	copy(pseudo[16:32], dstIP[:])
	binary.BigEndian.PutUint32(pseudo[32:36], uint32(udpLen))
	pseudo[39] = ProtoUDP
	return pseudo[:]
}

// Clone returns an independent copy of the template sharing no backing
// array with the original, used to build the N-copy rotation arrays
// described in spec.md section 3 ("Template arrays").
func (t *Template) Clone() *Template {
	c := *t
	c.Buf = append([]byte(nil), t.Buf...)
	return &c
}

// SetPorts writes new source/destination port values into a variable
// template's port handles and recomputes the UDP checksum from
// ChecksumBase, per the incremental checksum rule in spec.md section
// 4.1. Fields whose Handle is the zero value are left untouched.
func (t *Template) SetPorts(srcPort, dstPort uint16) {
	acc := t.ChecksumBase
	if t.SrcPort.Size != 0 {
		t.SrcPort.PutUint16(t.Buf, srcPort)
		acc = AddField(acc, srcPort)
	}
	if t.DstPort.Size != 0 {
		t.DstPort.PutUint16(t.Buf, dstPort)
		acc = AddField(acc, dstPort)
	}
	t.UDPChecksum.PutUint16(t.Buf, FinalizeUDP(acc))
}

// SetProbeID rewrites a latency-probe frame's probe-id payload field
// in place and folds the change into the UDP checksum incrementally,
// per spec.md section 4.6. A no-op on templates not built with
// Params.Probe.
func (t *Template) SetProbeID(id uint16) {
	if t.ProbeID.Size == 0 {
		return
	}
	old := t.ProbeID.Uint16(t.Buf)
	t.ProbeID.PutUint16(t.Buf, id)

	acc := uncomplementedSum(t.UDPChecksum.Uint16(t.Buf))
	acc += uint32(id) + 0xffff - uint32(old)
	t.UDPChecksum.PutUint16(t.Buf, FinalizeUDP(acc))
}

// SetIPv4Tuple rewrites the four-tuple fields of an IPv4 template in
// bulk (spec.md section 4.4, Responder sender step b-d): source and
// destination IP, source and destination UDP port. The UDP checksum is
// updated incrementally by folding the difference between the new and
// the previous 12 tuple bytes into the checksum the frame carries, and
// the IPv4 header checksum is recomputed from scratch. ChecksumBase is
// not updated.
func (t *Template) SetIPv4Tuple(srcIP, dstIP [4]byte, srcPort, dstPort uint16) {
	ipOff := EthHeaderLen
	udpOff := EthHeaderLen + IPv4HeaderLen

	var tuple [12]byte
	copy(tuple[0:4], srcIP[:])
	copy(tuple[4:8], dstIP[:])
	binary.BigEndian.PutUint16(tuple[8:10], srcPort)
	binary.BigEndian.PutUint16(tuple[10:12], dstPort)

	acc := uncomplementedSum(t.UDPChecksum.Uint16(t.Buf))
	acc += sum16(tuple[:]) + 6*0xffff - sum16(t.Buf[ipOff+12:ipOff+20]) - sum16(t.Buf[udpOff:udpOff+4])

	copy(t.Buf[ipOff+12:ipOff+20], tuple[0:8])
	copy(t.Buf[udpOff:udpOff+4], tuple[8:12])
	t.UDPChecksum.PutUint16(t.Buf, FinalizeUDP(acc))

	ipHdr := t.Buf[ipOff : ipOff+IPv4HeaderLen]
	binary.BigEndian.PutUint16(ipHdr[10:12], 0)
	binary.BigEndian.PutUint16(ipHdr[10:12], ipv4HeaderChecksum(ipHdr))
}

// SetIPSlice overwrites the 16-bit IP-address slice named by h — the
// template's SrcIPSlice or DstIPSlice handle — per spec.md section
// 4.2's multi-IP variant, and folds the change into the UDP checksum
// and into ChecksumBase incrementally, since the UDP pseudo-header
// covers the IP addresses for both versions; for IPv4 it also folds
// the change into the header checksum.
func (t *Template) SetIPSlice(h Handle, value uint16) {
	old := h.Uint16(t.Buf)
	h.PutUint16(t.Buf, value)

	delta := uint32(value) + 0xffff - uint32(old)

	udpAcc := uncomplementedSum(t.UDPChecksum.Uint16(t.Buf))
	t.UDPChecksum.PutUint16(t.Buf, FinalizeUDP(udpAcc+delta))
	t.ChecksumBase = uint32(foldCarries(t.ChecksumBase + delta))

	if t.IPVersion != 4 {
		return
	}
	ipHdr := t.Buf[EthHeaderLen : EthHeaderLen+IPv4HeaderLen]
	ipAcc := uncomplementedSum(binary.BigEndian.Uint16(ipHdr[10:12]))
	binary.BigEndian.PutUint16(ipHdr[10:12], complementIPv4(ipAcc+delta))
}
