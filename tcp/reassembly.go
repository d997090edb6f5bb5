package tcp

// reassemblyEntry is one out-of-order segment buffered until RCV.NXT catches up to it.
type reassemblyEntry struct {
	seq  Value
	data []byte // owned copy; caller's buffer may be reused after Insert returns.
}

// Reassembly buffers out-of-order segments received in-window but ahead of RCV.NXT,
// and yields them back in order as the receive sequence advances over them. Segments
// are kept sorted ascending by seq. Bytes before nxt are trimmed on insert and a
// segment fully covered by one buffered entry is dropped; partial overlaps between
// buffered segments are kept as received.
type Reassembly struct {
	entries []reassemblyEntry
	logger
}

// Insert buffers seg's payload if seq is ahead of nxt (out-of-order). Segments
// fully covered by an existing entry are dropped; segments starting before nxt
// are trimmed to the non-overlapping tail. Insert does nothing if seq == nxt
// (caller should deliver directly) or if payload is empty after trimming.
func (r *Reassembly) Insert(nxt Value, seq Value, payload []byte) {
	if len(payload) == 0 || seq == nxt {
		return
	}
	if seq.LessThan(nxt) {
		skip := Sizeof(seq, nxt)
		if int(skip) >= len(payload) {
			return // Entirely old data, already delivered.
		}
		seq = nxt
		payload = payload[skip:]
	}
	end := Add(seq, Size(len(payload)))
	for _, e := range r.entries {
		estart := e.seq
		eend := Add(e.seq, Size(len(e.data)))
		if !seq.LessThan(estart) && end.LessThanEq(eend) {
			r.trace("reassembly:drop-covered")
			return // Fully covered by an existing entry.
		}
	}
	r.trace("reassembly:insert")
	r.entries = append(r.entries, reassemblyEntry{seq: seq, data: append([]byte(nil), payload...)})
	for i := len(r.entries) - 1; i > 0 && r.entries[i].seq.LessThan(r.entries[i-1].seq); i-- {
		r.entries[i], r.entries[i-1] = r.entries[i-1], r.entries[i]
	}
}

// Drain delivers every buffered segment whose seq equals nxt, advancing nxt by each
// segment's length, calling deliver(payload) for each one in order. It returns the
// advanced nxt. Drain stops at the first gap (entry.seq != nxt).
func (r *Reassembly) Drain(nxt Value, deliver func([]byte)) Value {
	for len(r.entries) > 0 && r.entries[0].seq == nxt {
		e := r.entries[0]
		r.entries = r.entries[1:]
		if deliver != nil {
			deliver(e.data)
		}
		nxt = Add(nxt, Size(len(e.data)))
	}
	return nxt
}

// Pending returns the number of out-of-order segments currently buffered.
func (r *Reassembly) Pending() int { return len(r.entries) }

// Reset discards all buffered segments, e.g. on connection close.
func (r *Reassembly) Reset() { r.entries = r.entries[:0] }
