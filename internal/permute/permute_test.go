package permute

import "testing"

// TestPortPairsUniqueAndComplete covers S4: after enumeration, the set
// of produced pairs equals the full Cartesian product with no
// duplicates.
func TestPortPairsUniqueAndComplete(t *testing.T) {
	rng := NewRand()
	seq, err := PortPairs(1024, 1123, 1, 1000, rng)
	if err != nil {
		t.Fatalf("PortPairs: %v", err)
	}
	want := 100 * 1000
	if seq.Len() != want {
		t.Fatalf("Len() = %d, want %d", seq.Len(), want)
	}

	seen := make(map[Pair]bool, want)
	for seq.Remaining() > 0 {
		p := seq.Next()
		if seen[p] {
			t.Fatalf("duplicate pair %+v", p)
		}
		seen[p] = true
	}
	for sp := uint16(1024); sp <= 1123; sp++ {
		for dp := uint16(1); dp <= 1000; dp++ {
			if !seen[Pair{Low: sp, High: dp}] {
				t.Fatalf("missing pair %d,%d", sp, dp)
			}
		}
	}
}

func TestNextPanicsWhenExhausted(t *testing.T) {
	rng := NewRand()
	seq, err := PortPairs(1, 1, 1, 1, rng)
	if err != nil {
		t.Fatal(err)
	}
	seq.Next()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on exhausted sequence")
		}
	}()
	seq.Next()
}

func TestInvalidRangeRejected(t *testing.T) {
	rng := NewRand()
	if _, err := PortPairs(10, 5, 1, 1, rng); err == nil {
		t.Fatal("expected error for inverted range")
	}
}
