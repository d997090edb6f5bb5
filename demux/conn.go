package demux

import (
	"time"

	"github.com/swastic7/oxtcp/internal"
	"github.com/swastic7/oxtcp/tcp"
)

// sendBufferSize bounds how much unsent application data a connection may
// queue before Send starts reporting short writes.
const sendBufferSize = 64 << 10

// OnData is called synchronously, from within the event loop, with each
// chunk of payload delivered in order. It must not block and must not retain
// the slice past the call.
type OnData func(*Conn, []byte)

// OnClose is called once a connection reaches CLOSED, either gracefully or
// because the retransmission engine gave up.
type OnClose func(*Conn, error)

// connState is the event loop's bookkeeping for one active Quad: the
// sequencing/reliability engine (TCB) plus the small amount of glue needed to
// drive the application collaborator.
type connState struct {
	quad    Quad
	tcb     tcp.TCB
	onData  OnData
	onClose OnClose
	outbox  internal.Ring // application bytes not yet handed to the TCB for sending.
	sendbuf []byte        // scratch buffer reused by drainOutbox to peek outbox without allocating per segment.

	timeWaitStart time.Time // set on entering TIME-WAIT; zero otherwise.
}

// Conn is the application-facing handle for one connection, valid only while
// called back from within the owning EventLoop's goroutine (no locking is
// provided, matching the single-owner cooperative model).
type Conn struct {
	loop *EventLoop
	cs   *connState
}

// Quad returns the connection's four-tuple.
func (c *Conn) Quad() Quad { return c.cs.quad }

// State returns the connection's current TCP state.
func (c *Conn) State() tcp.State { return c.cs.tcb.State() }

// Send queues payload on the connection's outbound ring buffer; it will be
// packaged into segments (subject to window and congestion limits) on the
// next opportunity the event loop has to write to this connection. Send
// returns the number of bytes actually queued, which is less than
// len(payload) once the buffer fills.
func (c *Conn) Send(payload []byte) (int, error) {
	return c.cs.outbox.Write(payload)
}

// Close initiates a graceful close (FIN) of the connection.
func (c *Conn) Close() error {
	return c.cs.tcb.Close()
}

func newConnState(quad Quad, mss tcp.Size, onData OnData, onClose OnClose) *connState {
	cs := &connState{quad: quad, onData: onData, onClose: onClose}
	cs.outbox.Buf = make([]byte, sendBufferSize)
	cs.sendbuf = make([]byte, sendBufferSize)
	cs.tcb.Init(mss)
	return cs
}

func (cs *connState) deliver(loop *EventLoop, chunks [][]byte) {
	if cs.onData == nil {
		return
	}
	conn := &Conn{loop: loop, cs: cs}
	for _, chunk := range chunks {
		cs.onData(conn, chunk)
	}
}

// drainOutbox peeks the application bytes queued via Conn.Send, hands them to
// the TCB to package into the next pending segment (subject to window and
// congestion limits), and discards from the ring buffer only what was
// actually consumed.
func (cs *connState) drainOutbox(now time.Time) (seg tcp.Segment, payload []byte, ok bool) {
	avail := cs.outbox.Buffered()
	buf := cs.sendbuf
	if avail > len(buf) {
		avail = len(buf)
	}
	if avail > 0 {
		n, _ := cs.outbox.ReadPeek(buf[:avail])
		buf = buf[:n]
	} else {
		buf = buf[:0]
	}
	seg, ok = cs.tcb.Emit(now, buf)
	if !ok {
		return tcp.Segment{}, nil, false
	}
	n := int(seg.DATALEN)
	payload = append([]byte(nil), buf[:n]...)
	if n > 0 {
		cs.outbox.ReadDiscard(n)
	}
	return seg, payload, true
}
