// Package netio provides the raw-socket TX/RX queues the traffic
// engine is handed by the orchestrator (spec.md section 1 treats
// "ready TX/RX queues" as out of scope for the core; this package is
// the out-of-scope collaborator that supplies them on Linux, in place
// of the DPDK mempool/port-ID abstraction the original tool assumed).
package netio

import "errors"

// BatchSize mirrors the original tool's MAX_PKT_BURST default (see
// SPEC_FULL.md section 3.A). RecvBatch itself reads up to len(bufs)
// frames, and the receivers pass one buffer per call, so nothing in
// this module currently sizes a batch from it.
const BatchSize = 32

// QueueDepth mirrors PORT_RX_QUEUE_SIZE/PORT_TX_QUEUE_SIZE from
// SPEC_FULL.md section 3.A: the default depth of any buffering this
// package introduces between the kernel and a worker's hot loop.
const QueueDepth = 1024

var (
	// ErrLinkDown is returned when a queue could not be brought up
	// after MaxLinkRetries attempts, corresponding to the LinkDown
	// fatal error kind in spec.md section 7.
	ErrLinkDown = errors.New("netio: link not ready")

	// ErrClosed is returned by operations on a closed Queue.
	ErrClosed = errors.New("netio: queue closed")
)

// MaxLinkRetries is MAX_PORT_TRIALS from SPEC_FULL.md section 9.B.
const MaxLinkRetries = 100

// Queue abstracts one pinned worker's raw-frame transmit/receive path.
// A Queue is single-writer, single-reader: exactly one sender
// goroutine calls Send and exactly one receiver goroutine calls
// RecvBatch, matching the one-pinned-core-per-role model in spec.md
// section 5.
type Queue interface {
	// Send transmits one complete Ethernet frame (no FCS — the kernel
	// or NIC appends it). It corresponds to the "retry the TX-burst
	// call of size 1 until the NIC accepts the buffer" step in
	// spec.md section 4.2; on Linux a blocking raw-socket write
	// already has that retry-until-accepted behavior, so Send itself
	// does not loop.
	Send(frame []byte) error

	// RecvBatch reads up to len(bufs) frames into bufs. Each bufs[i]
	// must be pre-sized to the largest expected frame; lens holds one
	// frame length per filled slot, so len(lens) is the number read.
	RecvBatch(bufs [][]byte) (lens []int, err error)

	// Close releases the underlying socket.
	Close() error
}
