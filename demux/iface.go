package demux

import "io"

// MaxFrame is the largest buffer the event loop will read or write in one
// call: a 4-byte preamble plus a full IPv4 datagram with no jumbo support.
const MaxFrame = 1504

// preambleLen is the size of the flags+EtherType prefix every frame carries.
const preambleLen = 4

// Interface is the frame-level collaborator the event loop reads inbound
// datagrams from and writes outbound datagrams to. Each Read/Write transfers
// exactly one frame of at most MaxFrame bytes, prefixed with a 4-byte
// preamble: 2 bytes of flags (ignored on read, written zero) followed by a
// big-endian EtherType (must be EtherTypeIPv4 on both read and write). The
// remaining bytes are a raw IPv4 datagram.
//
// Interface deliberately says nothing about how frames reach the wire; it is
// satisfied by a TUN device, a pipe in tests, or anything else shaped like
// one. The event loop never assumes blocking semantics beyond what io.Reader
// and io.Writer already promise.
type Interface interface {
	io.Reader
	io.Writer
}
