package tcp

import "github.com/swastic7/oxtcp/internal"

// RSTQueue buffers stateless RST responses the event loop owes to peers whose
// segments matched no live connection (see RFC 9293 §3.10.7.1) or whose
// connection just aborted. It is bounded and not safe for concurrent use;
// the event loop that owns it drains it from its single goroutine.
type RSTQueue struct {
	entries [4]rstResponse
	n       uint8
}

// rstResponse is everything Drain needs to place one RST segment onto a
// carrier buffer: it has no reference to the buffer it came from, since the
// connection (and its frame) may already be gone by the time this drains.
type rstResponse struct {
	remoteAddr [4]byte
	remotePort uint16
	localPort  uint16
	seq        Value
	ack        Value
	flags      Flags
}

// Queue enqueues a RST response addressed back to remoteAddr:remotePort from
// localPort. Silently drops the request if remoteAddr isn't a 4-byte IPv4
// address or the queue is already full — a dropped RST just costs the peer
// one more round trip before it gives up, not a protocol violation.
func (q *RSTQueue) Queue(remoteAddr []byte, remotePort, localPort uint16, seq, ack Value, flags Flags) {
	if len(remoteAddr) != 4 || q.n >= uint8(len(q.entries)) {
		return
	}
	e := &q.entries[q.n]
	copy(e.remoteAddr[:], remoteAddr)
	e.remotePort = remotePort
	e.localPort = localPort
	e.seq = seq
	e.ack = ack
	e.flags = flags
	q.n++
}

// Pending reports how many RST responses are queued.
func (q *RSTQueue) Pending() int { return int(q.n) }

// Drain pops one queued RST and encodes it into carrierData, writing the
// TCP header at offsetToFrame and patching the IPv4 destination address
// starting at offsetToIP. It returns the number of TCP header bytes written,
// or (0, nil) if the queue is empty or offsetToIP is negative (no IPv4
// header present to patch).
func (q *RSTQueue) Drain(carrierData []byte, offsetToIP, offsetToFrame int) (int, error) {
	if q.n == 0 || offsetToIP < 0 {
		return 0, nil
	}
	q.n--
	e := &q.entries[q.n]

	tfrm, err := NewFrame(carrierData[offsetToFrame:])
	if err != nil {
		return 0, nil
	}
	tfrm.SetSourcePort(e.localPort)
	tfrm.SetDestinationPort(e.remotePort)
	tfrm.SetSegment(Segment{SEQ: e.seq, ACK: e.ack, Flags: e.flags}, 5)
	tfrm.SetUrgentPtr(0)

	if err := internal.SetIPAddrs(carrierData[offsetToIP:offsetToFrame], 0, nil, e.remoteAddr[:]); err != nil {
		return 0, nil
	}
	return sizeHeaderTCP, nil
}
