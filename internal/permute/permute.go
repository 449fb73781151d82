// Package permute generates the unique-combination arrays described in
// spec.md section 3: pre-computed, non-repeating sequences of port
// pairs, IP-slice pairs, or four-tuples produced by a Fisher-Yates
// shuffle over the Cartesian product of configured ranges. A cursor
// advances through the result and is never rereads, matching the
// "each element appears exactly once" invariant.
package permute

import (
	"fmt"
	"math/rand/v2"
)

// Pair is a generic (low, high) combination, used both for 16-bit port
// pairs (src, dst) and 16-bit IP-slice pairs.
type Pair struct {
	Low  uint16
	High uint16
}

// Sequence is a cursor over a pre-shuffled, non-repeating slice of
// values. Advance never rereads an element once consumed.
type Sequence[T any] struct {
	values []T
	cursor int
}

// Len returns the total number of elements in the sequence.
func (s *Sequence[T]) Len() int { return len(s.values) }

// Remaining returns the number of elements not yet consumed.
func (s *Sequence[T]) Remaining() int { return len(s.values) - s.cursor }

// Next returns the next unconsumed element and advances the cursor. It
// panics if the sequence is exhausted, since the caller (spec.md
// section 4.3) is guaranteed one unique combination per foreground
// frame and exhaustion indicates a configuration bug, not a runtime
// condition to recover from.
func (s *Sequence[T]) Next() T {
	if s.cursor >= len(s.values) {
		panic("permute: sequence exhausted")
	}
	v := s.values[s.cursor]
	s.cursor++
	return v
}

// shuffle performs an in-place Fisher-Yates shuffle using rng.
func shuffle[T any](values []T, rng *rand.Rand) {
	for i := len(values) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		values[i], values[j] = values[j], values[i]
	}
}

// NewRand returns a thread-local PRNG seeded from the runtime's system
// entropy source, per the design note in spec.md section 9: "seeded
// from a system entropy source at worker start". PCG satisfies the
// "any 64-bit PRNG with period >= 2^64" requirement comfortably.
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// PortPairs builds the Cartesian product of [srcMin,srcMax] x
// [dstMin,dstMax] and returns it Fisher-Yates shuffled, for the
// enumerate-ports mode 3 (random-permutation) described in spec.md
// sections 4.3 and 6.
func PortPairs(srcMin, srcMax, dstMin, dstMax uint16, rng *rand.Rand) (*Sequence[Pair], error) {
	if srcMax < srcMin || dstMax < dstMin {
		return nil, fmt.Errorf("permute: invalid port range [%d,%d]x[%d,%d]", srcMin, srcMax, dstMin, dstMax)
	}
	n := (int(srcMax)-int(srcMin)+1)*(int(dstMax)-int(dstMin)+1)
	values := make([]Pair, 0, n)
	for sp := int(srcMin); sp <= int(srcMax); sp++ {
		for dp := int(dstMin); dp <= int(dstMax); dp++ {
			values = append(values, Pair{Low: uint16(sp), High: uint16(dp)})
		}
	}
	shuffle(values, rng)
	return &Sequence[Pair]{values: values}, nil
}

// IPSlicePairs builds the Cartesian product of [srcMin,srcMax] x
// [dstMin,dstMax] 16-bit IP-slice values and returns it shuffled, for
// the enumerate-ips mode 3 path.
func IPSlicePairs(srcMin, srcMax, dstMin, dstMax uint16, rng *rand.Rand) (*Sequence[Pair], error) {
	return PortPairs(srcMin, srcMax, dstMin, dstMax, rng)
}

// FourTuple is a 64-bit-equivalent combination of a source/destination
// IP slice and a source/destination port, used to seed the state
// table during the preliminary phase (spec.md sections 3 and 4.3).
type FourTuple struct {
	SrcIPSlice uint16
	DstIPSlice uint16
	SrcPort    uint16
	DstPort    uint16
}

// FourTuples builds the full Cartesian product of the four ranges and
// returns it Fisher-Yates shuffled. Used by S4: the set of recorded
// tuples after phase 1 must equal the full Cartesian product with no
// duplicates.
func FourTuples(sipMin, sipMax, dipMin, dipMax, spMin, spMax, dpMin, dpMax uint16, rng *rand.Rand) (*Sequence[FourTuple], error) {
	if sipMax < sipMin || dipMax < dipMin || spMax < spMin || dpMax < dpMin {
		return nil, fmt.Errorf("permute: invalid range")
	}
	n := (int(sipMax) - int(sipMin) + 1) *
		(int(dipMax) - int(dipMin) + 1) *
		(int(spMax) - int(spMin) + 1) *
		(int(dpMax) - int(dpMin) + 1)
	values := make([]FourTuple, 0, n)
	for sip := int(sipMin); sip <= int(sipMax); sip++ {
		for dip := int(dipMin); dip <= int(dipMax); dip++ {
			for sp := int(spMin); sp <= int(spMax); sp++ {
				for dp := int(dpMin); dp <= int(dpMax); dp++ {
					values = append(values, FourTuple{
						SrcIPSlice: uint16(sip), DstIPSlice: uint16(dip),
						SrcPort: uint16(sp), DstPort: uint16(dp),
					})
				}
			}
		}
	}
	shuffle(values, rng)
	return &Sequence[FourTuple]{values: values}, nil
}
