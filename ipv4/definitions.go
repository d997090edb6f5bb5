package ipv4

const (
	sizeHeader = 20
)

// ToS is the IPv4 Type-of-Service/Traffic-Class octet: the top 6 bits carry
// the Differentiated Services Code Point (DSCP), the bottom 2 bits carry
// Explicit Congestion Notification (ECN).
type ToS uint8

// DS returns the DSCP field used to classify traffic for differentiated
// service handling.
func (tos ToS) DS() uint8 { return uint8(tos) >> 2 }

// ECN returns the Explicit Congestion Notification field.
func (tos ToS) ECN() uint8 { return uint8(tos) & 0b11 }

// Flags packs the 3-bit fragmentation-control flags and the 13-bit fragment
// offset that together make up the IPv4 header's Flags+Fragment Offset
// half-word, flags occupying the 3 most-significant bits.
type Flags uint16

const (
	flagReserved      Flags = 0x8000
	flagDontFragment  Flags = 0x4000
	flagMoreFragments Flags = 0x2000
	maskFragmentOffset      = 0x1fff
)

// IsEvil reports the reserved bit per the joke "Evil Bit" of [RFC3514]: real
// routers ignore it, but a demultiplexer that wants to refuse to process a
// self-declared-evil packet can check it here.
//
// [RFC3514]: https://datatracker.ietf.org/doc/html/rfc3514
func (f Flags) IsEvil() bool { return f&flagReserved != 0 }

// DontFragment reports whether the datagram must not be fragmented; if
// fragmentation would be required to route it, it is dropped instead.
func (f Flags) DontFragment() bool { return f&flagDontFragment != 0 }

// MoreFragments reports whether additional fragments of the same original
// datagram follow this one. Only the last fragment of a fragmented datagram
// has this cleared.
func (f Flags) MoreFragments() bool { return f&flagMoreFragments != 0 }

// FragmentOffset returns this fragment's offset from the start of the
// original datagram, in units of 8 bytes.
func (f Flags) FragmentOffset() uint16 { return uint16(f) & maskFragmentOffset }
