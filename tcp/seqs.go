package tcp

// Value is a TCP sequence number. Sequence numbers live in a 32 bit space that
// wraps around; comparisons must use modular ("serial number") arithmetic per
// RFC 9293 §3.4 rather than plain integer comparison, since NXT can wrap past
// ISS+2**32 over the lifetime of a long connection.
type Value uint32

// Size is a byte count, used for segment lengths and receive/send window sizes.
type Size uint32

// Add returns v+sz in the sequence space.
func Add(v Value, sz Size) Value { return v + Value(sz) }

// Sizeof returns the modular distance from a to b, i.e. the number of octets
// in [a, b). Both a and b are assumed to be within 2**31 of each other, as is
// guaranteed by any window of reasonable size.
func Sizeof(a, b Value) Size { return Size(b - a) }

// LessThan implements the serial number comparison "v < w" from RFC 1982,
// adapted to TCP's use in RFC 9293 §3.4: i.e v comes before w in the
// sequence space, accounting for wraparound.
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0
}

// LessThanEq reports whether v==w or v comes before w in the sequence space.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InWindow reports whether v lies in the half open interval [nxt, nxt+wnd),
// i.e whether v is an acceptable sequence number for a receive/send window
// that begins at nxt and spans wnd octets.
func (v Value) InWindow(nxt Value, wnd Size) bool {
	if wnd == 0 {
		return false
	}
	return Sizeof(nxt, v) < wnd
}

// UpdateForward advances v by sz octets, wrapping as needed.
func (v *Value) UpdateForward(sz Size) {
	*v = Add(*v, sz)
}

func (v Value) String() string {
	return uitoa(uint32(v))
}

func (sz Size) String() string {
	return uitoa(uint32(sz))
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = '0' + byte(v%10)
		v /= 10
	}
	return string(buf[i:])
}
