package netio

import (
	"sync"
	"time"
)

// LoopbackQueue is an in-process fake Queue, grounded on the teacher's
// fake-conn testing pattern: a buffered channel stands in for the
// kernel so engine tests can exercise the sender/receiver pipeline
// (spec.md section 8's invariant 6, "ideal reflector") without a real
// NIC or root privileges.
type LoopbackQueue struct {
	mu     sync.Mutex
	closed bool
	frames chan []byte
}

// NewLoopbackQueue returns a LoopbackQueue with the given channel
// depth (QueueDepth is the conventional choice).
func NewLoopbackQueue(depth int) *LoopbackQueue {
	return &LoopbackQueue{frames: make(chan []byte, depth)}
}

// Send enqueues a copy of frame for a paired Recv/RecvBatch call.
func (q *LoopbackQueue) Send(frame []byte) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	cp := append([]byte(nil), frame...)
	select {
	case q.frames <- cp:
		return nil
	default:
		return nil // queue full: silently dropped, like a lossy link
	}
}

// RecvBatch drains up to len(bufs) currently queued frames without
// blocking. Once the queue is closed and drained it returns ErrClosed.
func (q *LoopbackQueue) RecvBatch(bufs [][]byte) ([]int, error) {
	lens := make([]int, 0, len(bufs))
	for i := range bufs {
		select {
		case f, ok := <-q.frames:
			if !ok {
				return lens, ErrClosed
			}
			n := copy(bufs[i], f)
			lens = append(lens, n)
		default:
			return lens, nil
		}
	}
	return lens, nil
}

// Close marks the queue closed; further Sends fail.
func (q *LoopbackQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.frames)
	return nil
}

// Pipe returns two independent LoopbackQueues of the given depth. It
// does not connect them: a frame sent on one is received only from
// that same queue; Reflect links two queues in one direction.
func Pipe(depth int) (a, b *LoopbackQueue) {
	a = &LoopbackQueue{frames: make(chan []byte, depth)}
	b = &LoopbackQueue{frames: make(chan []byte, depth)}
	return a, b
}

// Reflect copies every frame sent into src back out through dst,
// simulating an ideal reflector (spec.md invariant 6) in a background
// goroutine until src is closed.
func Reflect(src, dst *LoopbackQueue) {
	go func() {
		buf := make([]byte, 2048)
		bufs := [][]byte{buf}
		for {
			lens, err := src.RecvBatch(bufs)
			if err != nil {
				return
			}
			if len(lens) == 0 {
				time.Sleep(50 * time.Microsecond)
				continue
			}
			for _, n := range lens {
				if err := dst.Send(buf[:n]); err != nil {
					return
				}
			}
		}
	}()
}
