package demux

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"syscall"
	"time"

	"github.com/swastic7/oxtcp"
	"github.com/swastic7/oxtcp/internal"
	"github.com/swastic7/oxtcp/ipv4"
	"github.com/swastic7/oxtcp/tcp"
)

// defaultTick bounds how long the event loop waits when no retransmission
// timer is armed, per spec's "ceiling (100 ms) when no timers are armed".
const defaultTick = 100 * time.Millisecond

// twoMSL is the TIME-WAIT duration: twice the Maximum Segment Lifetime.
const twoMSL = 240 * time.Second

// ISSFunc produces an initial send sequence number for a new connection keyed
// by its Quad. Production callers should derive this unpredictably — see
// cmd/oxtcpd's HKDF-based generator; tests may return a fixed sequence for
// determinism, following the Open Question decision recorded for this module.
type ISSFunc func(Quad) tcp.Value

// MetricsSink receives per-connection observations. Satisfied by
// metrics.Collector; nil is a valid no-op sink so demux never depends on it.
type MetricsSink interface {
	Observe(quad Quad, state tcp.State, cwnd, ssthresh tcp.Size, srtt, rto time.Duration, retransmits int)
	SegmentSent(quad Quad)
	SegmentReceived(quad Quad)
	Retransmitted(quad Quad)
	GaveUp(quad Quad)
	Forget(quad Quad)
}

type listener struct {
	onAccept func(Quad) (OnData, OnClose)
	wnd      tcp.Size
	mss      tcp.Size
}

// EventLoop owns the four-tuple -> TCB map and the interface handle
// exclusively; it is the sole mutator of connection state, per the
// single-threaded cooperative scheduling model: no locks are required.
type EventLoop struct {
	iface     Interface
	localAddr [4]byte
	conns     map[Quad]*connState
	listeners map[uint16]listener
	rst       tcp.RSTQueue
	iss       ISSFunc
	metrics   MetricsSink
	logger
}

// NewEventLoop builds an EventLoop bound to iface, representing localAddr on
// the wire. iss supplies the initial sequence number for each new connection;
// a nil iss defaults to the fixed value 1000 (test-only; see DESIGN.md).
func NewEventLoop(iface Interface, localAddr [4]byte, iss ISSFunc, log *slog.Logger) *EventLoop {
	if iss == nil {
		iss = func(Quad) tcp.Value { return 1000 }
	}
	return &EventLoop{
		iface:     iface,
		localAddr: localAddr,
		conns:     make(map[Quad]*connState),
		listeners: make(map[uint16]listener),
		iss:       iss,
		logger:    logger{log: log},
	}
}

// SetMetrics attaches a sink to receive per-connection observations.
func (e *EventLoop) SetMetrics(m MetricsSink) { e.metrics = m }

// Listen registers a passive-open acceptor for localPort. onAccept is called
// synchronously, from within Run's goroutine, for each inbound SYN destined
// for this port; it returns the OnData/OnClose callbacks that will drive the
// new connection. Either callback may be nil: the connection is still
// accepted, and the missing callback is simply not called.
func (e *EventLoop) Listen(localPort uint16, wnd, mss tcp.Size, onAccept func(Quad) (OnData, OnClose)) {
	if mss == 0 {
		mss = tcp.DefaultMSS
	}
	e.listeners[localPort] = listener{onAccept: onAccept, wnd: wnd, mss: mss}
}

// Run drives the event loop until ctx is cancelled or the interface returns a
// fatal error. A dedicated goroutine turns iface's blocking Read into a
// channel source; Run itself never blocks on anything but the select below.
func (e *EventLoop) Run(ctx context.Context) error {
	frames := make(chan []byte)
	errs := make(chan error, 1)
	go e.readLoop(ctx, frames, errs)

	timer := time.NewTimer(defaultTick)
	defer timer.Stop()
	for {
		e.armTimer(timer)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return io.EOF
			}
			e.handleInbound(time.Now(), frame)
		case <-timer.C:
			e.sweepTimers(time.Now())
		case err := <-errs:
			return err
		}
		e.flushOutbound(time.Now())
	}
}

// readLoop performs no TCP logic and never touches the connection table; it
// exists solely to turn a blocking io.Reader into a channel source, preserving
// single-owner mutation of conns in the Run goroutine.
func (e *EventLoop) readLoop(ctx context.Context, frames chan<- []byte, errs chan<- error) {
	for {
		buf := make([]byte, MaxFrame)
		n, err := e.iface.Read(buf)
		if err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case frames <- buf[:n]:
		case <-ctx.Done():
			return
		}
	}
}

// armTimer resets timer to fire at the earliest outstanding retransmit
// deadline across all connections, or defaultTick if none are armed.
func (e *EventLoop) armTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	now := time.Now()
	wait := defaultTick
	for _, cs := range e.conns {
		d, ok := cs.tcb.Retransmitter.NextDeadline()
		if !ok {
			continue
		}
		if until := d.Sub(now); until < wait {
			wait = until
		}
	}
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}

// handleInbound strips the link preamble, parses IPv4 then TCP, demultiplexes
// by Quad, and steps the resulting connection's state machine.
func (e *EventLoop) handleInbound(now time.Time, frame []byte) {
	if len(frame) < preambleLen {
		e.warn("demux:drop", slog.String("err", errMalformedFrame.Error()))
		return
	}
	etype := oxtcp.EtherType(binary.BigEndian.Uint16(frame[2:4]))
	if etype != oxtcp.EtherTypeIPv4 {
		return // Not our concern; silently ignored per spec's MalformedFrame policy.
	}
	ip := frame[preambleLen:]
	ifrm, err := ipv4.NewFrame(ip)
	if err != nil {
		e.warn("demux:drop", slog.String("err", err.Error()))
		return
	}
	var v oxtcp.Validator
	ifrm.ValidateExceptCRC(&v)
	if err := v.ErrPop(); err != nil {
		e.warn("demux:drop-malformed-ip", slog.String("err", err.Error()))
		return
	}
	if ifrm.CRC() != ifrm.CalculateHeaderCRC() {
		e.warn("demux:drop-bad-ip-crc", slog.String("err", errBadChecksum.Error()))
		return
	}
	if ifrm.Protocol() != oxtcp.IPProtoTCP {
		e.trace("demux:drop-unsupported-proto", slog.String("err", errUnsupportedProto.Error()))
		return
	}

	off := ifrm.HeaderLength()
	total := int(ifrm.TotalLength())
	if total < off || total > len(ip) {
		e.warn("demux:drop-truncated", slog.String("err", errMalformedFrame.Error()))
		return
	}
	tfrm, err := tcp.NewFrame(ip[off:total])
	if err != nil {
		e.warn("demux:drop", slog.String("err", err.Error()))
		return
	}
	var tv oxtcp.Validator
	tfrm.ValidateExceptCRC(&tv)
	if err := tv.ErrPop(); err != nil {
		e.warn("demux:drop-malformed-tcp", slog.String("err", err.Error()))
		return
	}
	var crc oxtcp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	if crc.PayloadSum16(tfrm.RawData()) != 0 {
		// A valid on-wire checksum already includes itself in the summed
		// range, so the ones'-complement sum over pseudo-header + header
		// (with its stored checksum field) + payload folds to 0, not the
		// stored field value. The IP check above uses the other convention:
		// CalculateHeaderCRC excludes the field and the result is compared
		// with the stored value.
		e.warn("demux:drop-bad-tcp-crc", slog.String("err", errBadChecksum.Error()))
		return
	}

	if internal.IsZeroed(ifrm.SourceAddr()[:]...) || internal.IsZeroed(ifrm.DestinationAddr()[:]...) {
		e.trace("demux:drop-zero-addr", slog.String("err", errMalformedFrame.Error()))
		return
	}
	quad := Quad{
		RemoteAddr: *ifrm.SourceAddr(),
		RemotePort: tfrm.SourcePort(),
		LocalAddr:  *ifrm.DestinationAddr(),
		LocalPort:  tfrm.DestinationPort(),
	}
	payload := tfrm.Payload()
	seg := tfrm.Segment(len(payload))
	if seg.Flags.HasAny(tcp.FlagSYN) {
		e.logPeerMSS(quad, tfrm)
	}

	cs, found := e.conns[quad]
	if !found {
		cs = e.tryAccept(quad, seg)
		if cs == nil {
			if seg.Flags.HasAny(tcp.FlagSYN) && !seg.Flags.HasAny(tcp.FlagACK) {
				e.warn("demux:no-listener", internal.SlogAddr4("remote_addr", &quad.RemoteAddr),
					slog.String("quad", quad.String()), slog.String("err", errNoListener.Error()))
				e.rst.Queue(quad.RemoteAddr[:], quad.RemotePort, quad.LocalPort, 0, seg.SEQ+1, tcp.FlagRST|tcp.FlagACK)
			}
			return
		}
		e.conns[quad] = cs
		e.trace("demux:accepted", slog.String("quad", quad.String()))
	}
	if e.metrics != nil {
		e.metrics.SegmentReceived(quad)
	}

	delivered, err := cs.tcb.Accept(now, seg, payload)
	if err != nil {
		// Per the UnacceptableSegment policy: drop the payload, keep the
		// connection's state as-is, and rely on ControlBlock having already
		// queued whatever ACK (or RST) the rejection calls for, for the next
		// flushOutbound pass. An in-window RST has instead moved the TCB to
		// CLOSED, and the connection is destroyed.
		e.warn("demux:reject", slog.String("quad", quad.String()),
			slog.String("kind", errUnacceptableSegment.Error()), slog.String("err", err.Error()))
		if cs.tcb.State() == tcp.StateClosed {
			e.destroy(quad, cs, err)
		}
		return
	}
	cs.deliver(e, delivered)
	e.noteState(cs, now)

	if cs.tcb.State() == tcp.StateClosed {
		e.destroy(quad, cs, nil)
	}
}

// logPeerMSS scans a SYN's TCP options for a MaxSegmentSize option and logs
// it. This module negotiates nothing from it (MSS stays at the locally
// configured default, per the listener's Listen call) — it exists only to
// give operators visibility into what a peer advertised.
func (e *EventLoop) logPeerMSS(quad Quad, tfrm tcp.Frame) {
	codec := tcp.OptionCodec{Flags: tcp.OptFlagSkipObsolete}
	err := tfrm.ForEachOption(codec, func(kind tcp.OptionKind, data []byte) error {
		if kind == tcp.OptMaxSegmentSize && len(data) == 2 {
			e.trace("demux:peer-mss", slog.String("quad", quad.String()),
				slog.Uint64("mss", uint64(binary.BigEndian.Uint16(data))))
		}
		return nil
	})
	if err != nil {
		e.trace("demux:peer-mss-parse", slog.String("quad", quad.String()), slog.String("err", err.Error()))
	}
}

// noteState records the instant a connection first enters TIME-WAIT, arming
// its 2MSL expiry; it is a no-op on every other state.
func (e *EventLoop) noteState(cs *connState, now time.Time) {
	if cs.tcb.State() == tcp.StateTimeWait && cs.timeWaitStart.IsZero() {
		cs.timeWaitStart = now
	}
}

// tryAccept looks up a listener for an unmatched inbound SYN and, if found,
// creates a new connState in StateListen ready to process it.
func (e *EventLoop) tryAccept(quad Quad, seg tcp.Segment) *connState {
	if seg.Flags != tcp.FlagSYN {
		return nil
	}
	l, ok := e.listeners[quad.LocalPort]
	if !ok || l.onAccept == nil {
		return nil
	}
	onData, onClose := l.onAccept(quad)
	cs := newConnState(quad, l.mss, onData, onClose)
	if err := cs.tcb.Open(e.iss(quad), l.wnd); err != nil {
		e.logerr("demux:open-failed", slog.String("quad", quad.String()), slog.String("err", err.Error()))
		return nil
	}
	return cs
}

// sweepTimers fires retransmission actions due across every connection and
// destroys any connection whose retry budget is exhausted.
func (e *EventLoop) sweepTimers(now time.Time) {
	for quad, cs := range e.conns {
		if !cs.timeWaitStart.IsZero() && now.Sub(cs.timeWaitStart) >= twoMSL {
			e.trace("demux:2msl-expiry", slog.String("quad", quad.String()))
			e.destroy(quad, cs, nil)
			continue
		}
		actions, giveUp := cs.tcb.Tick(now)
		for _, a := range actions {
			e.trace("demux:retransmit", slog.String("quad", quad.String()), slog.Int("attempt", a.Attempt))
			if e.metrics != nil {
				e.metrics.Retransmitted(quad)
			}
			e.writeSegment(quad, tcp.Segment{SEQ: a.Seq, ACK: cs.tcb.RecvNext(), Flags: a.Flags,
				WND: cs.tcb.RecvWindow(), DATALEN: tcp.Size(len(a.Payload))}, a.Payload)
		}
		if giveUp {
			e.error("demux:give-up", slog.String("quad", quad.String()))
			if e.metrics != nil {
				e.metrics.GaveUp(quad)
			}
			e.rst.Queue(quad.RemoteAddr[:], quad.RemotePort, quad.LocalPort, cs.tcb.ISS(), cs.tcb.RecvNext(), tcp.FlagRST)
			e.destroy(quad, cs, errMaxRetransmits)
		}
	}
}

// flushOutbound emits pending control segments and queued application data
// for every connection, and drains any pending stateless RST response.
func (e *EventLoop) flushOutbound(now time.Time) {
	for quad, cs := range e.conns {
		for {
			seg, payload, ok := cs.drainOutbox(now)
			if !ok {
				break
			}
			e.writeSegment(quad, seg, payload)
		}
		e.noteState(cs, now)
		if e.metrics != nil {
			e.metrics.Observe(quad, cs.tcb.State(), cs.tcb.Cwnd(), cs.tcb.Ssthresh(),
				cs.tcb.SRTT(), cs.tcb.RTO(), cs.tcb.ConsecutiveTimeouts())
		}
	}
	const ipHeaderLen = 20
	for e.rst.Pending() > 0 {
		frame := make([]byte, MaxFrame)
		binary.BigEndian.PutUint16(frame[2:4], uint16(oxtcp.EtherTypeIPv4))
		ip := frame[preambleLen:]
		ifrm, _ := ipv4.NewFrame(ip)
		ifrm.SetVersionAndIHL(4, 5)
		ifrm.SetToS(0)
		ifrm.SetID(0)
		ifrm.SetFlags(0x4000)
		ifrm.SetTTL(64)
		ifrm.SetProtocol(oxtcp.IPProtoTCP)
		*ifrm.SourceAddr() = e.localAddr

		n, err := e.rst.Drain(ip, 0, ipHeaderLen)
		if err != nil || n == 0 {
			break
		}
		ifrm.SetTotalLength(uint16(ipHeaderLen + n))
		ifrm.SetCRC(ifrm.CalculateHeaderCRC())

		tfrm, _ := tcp.NewFrame(ip[ipHeaderLen : ipHeaderLen+n])
		var crc oxtcp.CRC791
		ifrm.CRCWriteTCPPseudo(&crc)
		tfrm.SetCRC(oxtcp.NeverZeroChecksum(crc.PayloadSum16(tfrm.RawData())))

		e.writeIPFrame(frame, ipHeaderLen+n)
	}
}

func (e *EventLoop) writeSegment(quad Quad, seg tcp.Segment, payload []byte) {
	const ipHeaderLen = 20
	const tcpHeaderLen = 20
	frame := make([]byte, preambleLen+ipHeaderLen+tcpHeaderLen+len(payload))
	binary.BigEndian.PutUint16(frame[2:4], uint16(oxtcp.EtherTypeIPv4))
	ip := frame[preambleLen:]
	ifrm, _ := ipv4.NewFrame(ip)
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetToS(0)
	ifrm.SetID(0)
	ifrm.SetFlags(0x4000) // Don't-fragment.
	ifrm.SetTTL(64)
	*ifrm.SourceAddr() = e.localAddr
	*ifrm.DestinationAddr() = quad.RemoteAddr
	ifrm.SetProtocol(oxtcp.IPProtoTCP)
	ifrm.SetTotalLength(uint16(ipHeaderLen + tcpHeaderLen + len(payload)))
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	tfrm, _ := tcp.NewFrame(ip[ipHeaderLen:])
	tfrm.SetSourcePort(quad.LocalPort)
	tfrm.SetDestinationPort(quad.RemotePort)
	tfrm.SetSegment(seg, 5)
	tfrm.SetUrgentPtr(0)
	copy(tfrm.RawData()[tcpHeaderLen:], payload)

	var crc oxtcp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.SetCRC(oxtcp.NeverZeroChecksum(crc.PayloadSum16(tfrm.RawData())))

	if e.metrics != nil {
		e.metrics.SegmentSent(quad)
	}
	e.writeIPFrame(frame, ipHeaderLen+tcpHeaderLen+len(payload))
}

func (e *EventLoop) writeIPFrame(frame []byte, ipLen int) {
	_, err := e.iface.Write(frame[:preambleLen+ipLen])
	if err != nil {
		// Per the InterfaceWouldBlock policy: re-queue, don't drop state. A
		// segment that consumes sequence space (data, SYN, FIN) is already
		// tracked by the connection's Retransmitter (enqueued before
		// writeSegment was called), so a lost write is recovered the same way
		// a lost-in-flight segment is: RTO expiry drives a retransmit. A bare
		// ACK or an RST is not tracked and is not written again.
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			e.warn("demux:write", slog.String("kind", errInterfaceWouldBlock.Error()))
			return
		}
		e.warn("demux:write", slog.String("err", err.Error()))
	}
}

// destroy removes a connection from the table and notifies its OnClose.
func (e *EventLoop) destroy(quad Quad, cs *connState, err error) {
	delete(e.conns, quad)
	if e.metrics != nil {
		e.metrics.Forget(quad)
	}
	if cs.onClose != nil {
		cs.onClose(&Conn{loop: e, cs: cs}, err)
	}
	e.trace("demux:destroy", slog.String("quad", quad.String()))
}
