package oxtcp

// EtherType identifies the payload protocol of a link-layer frame. The interface
// collaborator's 4-byte preamble (see the demux package) carries one of these in
// its last two bytes; only [EtherTypeIPv4] is accepted by this module's event loop.
type EtherType uint16

// Ethernet type values relevant to an IPv4-only stack.
const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeIPv6:
		return "IPv6"
	default:
		return "EtherType(0x" + hex4(uint16(et)) + ")"
	}
}

// IPProto represents an IPv4 protocol number (RFC 790 "Assigned Internet Protocol Numbers").
type IPProto uint8

// Protocol numbers this stack cares about. The full IANA registry has several
// hundred entries; only the ones the codec and demultiplexer branch on are named,
// since ICMP/ARP/fragmentation handling are external collaborators (see spec.md §1).
const (
	IPProtoICMP IPProto = 1
	IPProtoTCP  IPProto = 6
	IPProtoUDP  IPProto = 17
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return "IPProto(" + itoa(uint8(p)) + ")"
	}
}

const hexdigits = "0123456789abcdef"

func hex4(v uint16) string {
	b := [4]byte{hexdigits[v>>12&0xf], hexdigits[v>>8&0xf], hexdigits[v>>4&0xf], hexdigits[v&0xf]}
	return string(b[:])
}

func itoa(v uint8) string {
	if v == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = '0' + byte(v%10)
		v /= 10
	}
	return string(buf[i:])
}
