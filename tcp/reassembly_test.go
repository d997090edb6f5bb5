package tcp

import (
	"bytes"
	"testing"

	"github.com/swastic7/oxtcp/internal"
)

func TestReassemblyInOrder(t *testing.T) {
	var r Reassembly
	var delivered [][]byte
	r.Insert(100, 100, []byte("hello")) // seq == nxt: caller should deliver directly, Insert is a no-op.
	nxt := r.Drain(100, func(b []byte) { delivered = append(delivered, b) })
	if nxt != 100 || len(delivered) != 0 {
		t.Fatal("Insert must not buffer a segment that matches nxt")
	}
}

func TestReassemblyOutOfOrderThenGapCloses(t *testing.T) {
	var r Reassembly
	const nxt0 = Value(1000)

	r.Insert(nxt0, nxt0+5, []byte("world")) // arrives first, 5 bytes ahead.
	if r.Pending() != 1 {
		t.Fatal("expected one buffered out-of-order segment")
	}

	var delivered [][]byte
	nxt := r.Drain(nxt0, func(b []byte) { delivered = append(delivered, b) })
	if nxt != nxt0 || len(delivered) != 0 {
		t.Fatal("Drain must not deliver across a gap")
	}

	// The gap closes: the 5 missing octets arrive and get delivered directly
	// (by the caller, as Insert documents), then nxt reaches the buffered entry.
	nxt = r.Drain(nxt0+5, func(b []byte) { delivered = append(delivered, b) })
	if nxt != nxt0+10 || len(delivered) != 1 || !bytes.Equal(delivered[0], []byte("world")) {
		t.Fatalf("expected the buffered segment to drain once nxt catches up, got nxt=%v delivered=%v", nxt, delivered)
	}
	if r.Pending() != 0 {
		t.Fatal("expected buffer to be empty after drain")
	}
}

func TestReassemblyTrimsOverlap(t *testing.T) {
	var r Reassembly
	const nxt0 = Value(500)
	r.Insert(nxt0, nxt0-2, []byte("ABhello")) // starts 2 bytes before nxt; those 2 octets are stale.
	if r.Pending() != 1 {
		t.Fatal("expected the trimmed tail to be buffered")
	}
	var delivered [][]byte
	r.Drain(nxt0, func(b []byte) { delivered = append(delivered, b) })
	if len(delivered) != 1 || !bytes.Equal(delivered[0], []byte("hello")) {
		t.Fatalf("expected overlap trimmed to %q, got %q", "hello", delivered)
	}
}

func TestReassemblyDropsFullyCoveredSegment(t *testing.T) {
	var r Reassembly
	const nxt0 = Value(0)
	r.Insert(nxt0, nxt0+10, []byte("0123456789"))
	r.Insert(nxt0, nxt0+12, []byte("23")) // fully inside the first entry's span.
	if r.Pending() != 1 {
		t.Fatalf("expected the fully-covered segment to be dropped, got %d entries", r.Pending())
	}
}

// TestReassemblyPermutations checks spec's reassembly-correctness property: for
// every permutation of an in-window segment set with distinct non-overlapping
// seqs, the delivered byte stream equals the concatenation in seq order.
// Permutations are generated with a seeded xorshift PRNG (Fisher-Yates) rather
// than iterating all n! orderings, since the property must hold regardless of
// arrival order and a handful of shuffles exercises that without blowing up
// runtime for larger chunk counts.
func TestReassemblyPermutations(t *testing.T) {
	const nxt0 = Value(5000)
	chunks := [][]byte{[]byte("aaaaa"), []byte("bbb"), []byte("cc"), []byte("d"), []byte("eeeeee")}
	want := bytes.Join(chunks, nil)

	seqs := make([]Value, len(chunks))
	seq := nxt0
	for i, c := range chunks {
		seqs[i] = seq
		seq = Add(seq, Size(len(c)))
	}

	var seed uint32 = 0xC0FFEE
	for trial := 0; trial < 20; trial++ {
		order := make([]int, len(chunks))
		for i := range order {
			order[i] = i
		}
		// Fisher-Yates shuffle driven by internal.Prand32, seeded differently per trial.
		seed = internal.Prand32(seed + uint32(trial)*2654435761)
		for i := len(order) - 1; i > 0; i-- {
			seed = internal.Prand32(seed)
			j := int(seed % uint32(i+1))
			order[i], order[j] = order[j], order[i]
		}

		var r Reassembly
		nxt := nxt0
		var delivered [][]byte
		for _, idx := range order {
			if seqs[idx] == nxt {
				delivered = append(delivered, chunks[idx])
				nxt = Add(nxt, Size(len(chunks[idx])))
				nxt = r.Drain(nxt, func(b []byte) { delivered = append(delivered, b) })
				continue
			}
			r.Insert(nxt, seqs[idx], chunks[idx])
			nxt = r.Drain(nxt, func(b []byte) { delivered = append(delivered, b) })
		}
		got := bytes.Join(delivered, nil)
		if !bytes.Equal(got, want) {
			t.Fatalf("trial %d order %v: got %q, want %q", trial, order, got, want)
		}
		if r.Pending() != 0 {
			t.Fatalf("trial %d: expected all segments drained, %d still pending", trial, r.Pending())
		}
	}
}
