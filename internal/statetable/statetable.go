// Package statetable implements the fixed-capacity four-tuple ring
// buffer described in spec.md section 3: produced once by the
// preliminary-phase Responder receiver, then read-only to the
// Responder sender during the measurement phase.
package statetable

import (
	"sync/atomic"

	"github.com/lencsegabor-port/siitperfgo/internal/fourtuple"
)

// Table is a fixed-capacity ring of four-tuples. Writes come from a
// single producer (the Responder receiver during the preliminary
// phase); reads come from any number of concurrent consumers (the
// Responder sender during the measurement phase). Per spec.md section
// 5, consumers may legally read slots not yet written in the current
// run since the table was fully populated before they start.
type Table struct {
	slots    []fourtuple.Slot
	writeIdx atomic.Uint64
	written  atomic.Uint64
}

// New allocates a table with capacity m. Capacity corresponds to M in
// spec.md section 6's stateful configuration surface.
func New(m int) *Table {
	return &Table{slots: make([]fourtuple.Slot, m)}
}

// Cap returns the table's fixed capacity M.
func (t *Table) Cap() int { return len(t.slots) }

// Put writes v into the next ring slot and advances the write index
// modulo Cap(). Single-producer: callers must serialize calls to Put
// themselves (the preliminary receiver is the only writer by
// construction).
func (t *Table) Put(v fourtuple.FourTuple) {
	idx := t.writeIdx.Add(1) - 1
	t.slots[idx%uint64(len(t.slots))].Store(v)
	t.written.Add(1)
}

// Get returns the tuple stored at ring index i (mod Cap()).
func (t *Table) Get(i uint64) fourtuple.FourTuple {
	return t.slots[i%uint64(len(t.slots))].Load()
}

// ValidEntries returns min(written, Cap()), the number of valid
// entries after the preliminary phase per spec.md section 3.
func (t *Table) ValidEntries() int {
	w := t.written.Load()
	if w > uint64(len(t.slots)) {
		return len(t.slots)
	}
	return int(w)
}
