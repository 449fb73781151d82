// Package fourtuple implements the atomic four-tuple described in
// spec.md section 3: a 96-bit (init_addr, resp_addr, init_port,
// resp_port) value, stored in network byte order, that must never be
// observed torn by a concurrent reader.
//
// Go has no native 128-bit atomic, so each slot is protected by a
// seqlock following the design note in spec.md section 9: the writer
// increments an even->odd->even sequence counter bracketing the copy,
// the reader retries while it observes an odd counter or the counter
// changed across the read.
package fourtuple

import "sync/atomic"

// FourTuple is the plain (non-atomic) value carried inside a Slot.
type FourTuple struct {
	InitAddr uint32 // network byte order
	RespAddr uint32 // network byte order
	InitPort uint16 // network byte order
	RespPort uint16 // network byte order
}

// Slot holds one seqlock-protected FourTuple.
type Slot struct {
	seq   atomic.Uint32
	value FourTuple
}

// Store writes v into the slot, visible to readers only after the
// writer's sequence counter returns to even.
func (s *Slot) Store(v FourTuple) {
	seq := s.seq.Load()
	s.seq.Store(seq + 1) // now odd: readers must retry
	s.value = v
	s.seq.Store(seq + 2) // back to even: write is published
}

// Load returns the slot's current value. It never returns a torn
// value: if a concurrent Store is observed mid-write the read is
// retried.
func (s *Slot) Load() FourTuple {
	for {
		seq1 := s.seq.Load()
		if seq1&1 == 1 {
			continue
		}
		v := s.value
		seq2 := s.seq.Load()
		if seq1 == seq2 {
			return v
		}
	}
}
