// Package frame builds Ethernet/IPv4/IPv6/UDP test frames and maintains
// the cached checksum state that lets a sender mutate a handful of header
// fields per frame without recomputing a checksum from scratch.
package frame

import "fmt"

// Wire-layout constants, grounded on the byte offsets a SIIT/NAT64 tester
// and its reflector agree on: Ethernet II, no VLAN, IHL=5 for IPv4.
const (
	EthHeaderLen  = 14
	IPv4HeaderLen = 20
	IPv6HeaderLen = 40
	UDPHeaderLen  = 8
	FCSLen        = 4

	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeIPv6 uint16 = 0x86DD

	ProtoUDP = 17

	// IdentifierTag marks an ordinary test frame's payload.
	IdentifierTag = "IDENTIFY"
	// ProbeTag marks a latency-probe frame's payload (case-distinguished
	// from IdentifierTag).
	ProbeTag = "Identify"

	// FixedSrcPort and FixedDstPort are the RFC 2544 Appendix C.2.6.4
	// hard-coded port numbers used when port variation is disabled.
	FixedSrcPort uint16 = 0xC020
	FixedDstPort uint16 = 0x0007

	// TTLOrHopLimit is the fixed TTL (IPv4) / Hop Limit (IPv6) carried by
	// every test frame.
	TTLOrHopLimit uint8 = 10
)

// TagOffset returns the byte offset of the UDP payload tag for the
// given IP version, matching spec.md section 4.5's receiver validation
// table: v4 tag at byte 42, v6 tag at byte 62.
func TagOffset(ipVersion int) (int, error) {
	switch ipVersion {
	case 4:
		return EthHeaderLen + IPv4HeaderLen + UDPHeaderLen, nil
	case 6:
		return EthHeaderLen + IPv6HeaderLen + UDPHeaderLen, nil
	default:
		return 0, fmt.Errorf("frame: invalid IP version %d", ipVersion)
	}
}

// ProtoOffset returns the byte offset of the next-header/protocol field
// checked by the receiver (offset 23 for IPv4, offset 20 for IPv6).
func ProtoOffset(ipVersion int) (int, error) {
	switch ipVersion {
	case 4:
		return 23, nil
	case 6:
		return 20, nil
	default:
		return 0, fmt.Errorf("frame: invalid IP version %d", ipVersion)
	}
}

// FrameLen returns the on-wire length (including the 4-byte FCS the NIC
// appends) for a given IP version and payload size.
func FrameLen(ipVersion, payloadLen int) (int, error) {
	switch ipVersion {
	case 4:
		return EthHeaderLen + IPv4HeaderLen + UDPHeaderLen + payloadLen + FCSLen, nil
	case 6:
		return EthHeaderLen + IPv6HeaderLen + UDPHeaderLen + payloadLen + FCSLen, nil
	default:
		return 0, fmt.Errorf("frame: invalid IP version %d", ipVersion)
	}
}
