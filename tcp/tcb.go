package tcp

import (
	"log/slog"
	"time"
)

// TCB is a complete per-connection Transmission Control Block: it wires a
// [ControlBlock] (which runs the full admission test but has no reassembly
// buffer of its own) together with a [Reassembly] queue (to tolerate
// segments arriving out of order) and a [Retransmitter] (to time out and
// resend unacknowledged segments, with RFC 5681 congestion control). Where
// ControlBlock alone reports an in-window, out-of-sequence segment via
// errOutOfOrder, TCB buffers it and feeds it back in once the gap closes.
type TCB struct {
	ControlBlock
	Reassembly
	Retransmitter
}

// Init prepares a TCB for a new connection with the given MSS (DefaultMSS if
// zero). The local window is set separately, by Open or SetRecvWindow.
func (t *TCB) Init(mss Size) {
	t.Reassembly.Reset()
	t.Retransmitter.Init(mss)
}

// Accept processes one incoming segment carrying payload. now is used to
// drive RTT sampling and retransmission deadlines. delivered contains, in
// order, every payload chunk (this segment's and any previously buffered
// ones) now ready for the application: once the gap at RCV.NXT closes, every
// contiguous buffered segment drains in one call.
//
// Accept returns a nil error both when the segment is accepted in order and
// when it is validly buffered out of order; it returns a non-nil error only
// when the segment must be rejected (bad sequence/ack, wrong state, etc), in
// which case the caller should respond per RFC 9293 (e.g. a duplicate ACK or
// an RST) rather than treat the connection as broken.
func (t *TCB) Accept(now time.Time, seg Segment, payload []byte) (delivered [][]byte, err error) {
	err = t.ControlBlock.Recv(seg)
	if err != nil {
		if err == errOutOfOrder {
			t.Reassembly.Insert(t.rcv.NXT, seg.SEQ, payload)
			t.pending[0] |= FlagACK // Force an immediate (duplicate) ACK naming the real RCV.NXT.
			return nil, nil
		}
		return nil, err
	}
	if seg.Flags.HasAny(FlagACK) {
		t.Retransmitter.Ack(now, seg.ACK)
	}
	if len(payload) > 0 {
		delivered = append(delivered, payload)
	}
	t.rcv.NXT = t.Reassembly.Drain(t.rcv.NXT, func(b []byte) {
		delivered = append(delivered, b)
	})
	return delivered, nil
}

// Emit produces the next segment to send, if any, consuming up to
// len(payload) bytes of new data, capped at one MSS and further by cwnd per
// RFC 5681 (see [sendSpace.maxSend]), and arming it for retransmission with
// its own copy of the bytes sent, so the caller may reuse payload afterwards.
func (t *TCB) Emit(now time.Time, payload []byte) (seg Segment, ok bool) {
	if mss := int(t.Retransmitter.MSS()); len(payload) > mss {
		payload = payload[:mss]
	}
	seg, ok = t.ControlBlock.PendingSegment(len(payload), t.Retransmitter.Cwnd())
	if !ok {
		return seg, false
	}
	sent := append([]byte(nil), payload[:int(seg.DATALEN)]...)
	if err := t.ControlBlock.Send(seg); err != nil {
		t.logerr("tcb:emit-send-reject", slog.String("err", err.Error()))
		return Segment{}, false
	}
	t.Retransmitter.Enqueue(now, seg, sent)
	return seg, true
}

// Tick drives time-based work: retransmission of timed-out segments. It
// returns the actions the caller must actually write to the network, and
// giveUp=true if a segment exceeded the maximum retransmit count (the
// connection should be aborted).
func (t *TCB) Tick(now time.Time) (actions []RetransmitAction, giveUp bool) {
	return t.Retransmitter.Sweep(now, t.snd.inFlight())
}
