package tcp

// recvHandlers is the per-state receive half of the RFC 9293 connection
// state diagram, indexed by [State] so Recv can dispatch with a slice lookup
// instead of a growing switch. A nil entry means the state is unreachable at
// dispatch time (StateClosed is rejected earlier, by validateIncomingSegment).
var recvHandlers = [...]func(*ControlBlock, Segment) (Flags, error){
	StateClosed:      nil,
	StateListen:      (*ControlBlock).recvInListen,
	StateSynSent:     (*ControlBlock).recvInSynSent,
	StateSynRcvd:     (*ControlBlock).recvInSynRcvd,
	StateEstablished: (*ControlBlock).recvInEstablished,
	StateFinWait1:    (*ControlBlock).recvInFinWait1,
	StateFinWait2:    (*ControlBlock).recvInFinWait2,
	StateClosing:     (*ControlBlock).recvInClosing,
	StateTimeWait:    (*ControlBlock).recvInTimeWait,
	StateCloseWait:   (*ControlBlock).recvInCloseWait,
	StateLastAck:     (*ControlBlock).recvInLastAck,
}

// recvInListen handles the first leg of the three-way handshake: a peer's SYN
// while passively waiting for a connection.
func (tcb *ControlBlock) recvInListen(seg Segment) (Flags, error) {
	if !seg.Flags.HasAll(FlagSYN) {
		return 0, errExpectedSYN
	}
	tcb.resetSnd(tcb.snd.ISS, seg.WND)
	tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	tcb._state = StateSynRcvd
	tcb.pending[0] = synack
	return synack, nil
}

// recvInSynSent handles the response to our own SYN: either the expected
// SYN-ACK, or a bare SYN from a peer that opened at the same time
// (simultaneous open), which drops both sides into SYN-RECEIVED instead.
func (tcb *ControlBlock) recvInSynSent(seg Segment) (Flags, error) {
	hasSyn := seg.Flags.HasAny(FlagSYN)
	hasAck := seg.Flags.HasAny(FlagACK)
	if !hasSyn {
		return 0, errExpectedSYN
	}
	if hasAck && seg.ACK != tcb.snd.UNA+1 {
		return 0, errBadSegack
	}
	if !hasAck {
		tcb._state = StateSynRcvd
		tcb.resetSnd(tcb.snd.ISS, seg.WND)
		tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
		return synack, nil
	}
	tcb._state = StateEstablished
	tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	return FlagACK, nil
}

// recvInSynRcvd handles the final ACK of the three-way handshake.
func (tcb *ControlBlock) recvInSynRcvd(seg Segment) (Flags, error) {
	if seg.ACK != tcb.snd.UNA+1 {
		return 0, errBadSegack
	}
	tcb._state = StateEstablished
	return 0, nil
}

// recvInEstablished handles steady-state data transfer and the peer's
// initiation of a graceful close (FIN), which queues our FIN for after the
// ACK of theirs and moves us to CLOSE-WAIT.
func (tcb *ControlBlock) recvInEstablished(seg Segment) (Flags, error) {
	hasFin := seg.Flags.HasAny(FlagFIN)
	if seg.DATALEN == 0 && !hasFin {
		return 0, nil
	}
	if hasFin {
		tcb._state = StateCloseWait
		tcb.pending[1] = FlagFIN // Queued for after this ACK.
	}
	return FlagACK, nil
}

// ourFinAcked reports whether seg's ACK fully covers the FIN we previously
// sent: Send already advanced snd.NXT past the FIN's own sequence number, so
// an ACK equal to snd.NXT is an ACK of the FIN, not merely of data before it.
func (tcb *ControlBlock) ourFinAcked(seg Segment) bool {
	return seg.Flags.HasAny(FlagACK) && seg.ACK == tcb.snd.NXT
}

// recvInFinWait1 handles the three ways a peer can respond to our FIN:
// simultaneous close (FIN+ACK of ours at once), the peer's own FIN arriving
// first (enter CLOSING), or a plain ACK of our FIN (enter FIN-WAIT-2).
func (tcb *ControlBlock) recvInFinWait1(seg Segment) (Flags, error) {
	hasFin := seg.Flags.HasAny(FlagFIN)
	finAcked := tcb.ourFinAcked(seg)
	switch {
	case hasFin && finAcked:
		tcb._state = StateTimeWait
	case hasFin:
		tcb._state = StateClosing
	case finAcked:
		// TODO: confirm this branch does not need an ACK queued; some reference flowcharts say not needed.
		tcb._state = StateFinWait2
	default:
		return 0, errFinwaitExpectedACK
	}
	return FlagACK, nil
}

// recvInFinWait2 waits for the peer's FIN once our own has been acked.
func (tcb *ControlBlock) recvInFinWait2(seg Segment) (Flags, error) {
	if !seg.Flags.HasAll(finack) {
		return 0, errFinwaitExpectedFinack
	}
	tcb._state = StateTimeWait
	return FlagACK, nil
}

// recvInClosing waits for the peer's ACK of our FIN after a simultaneous
// close (both sides' FINs crossed in flight).
//
// Thanks to @knieriem for finding and reporting the bug this case fixes.
func (tcb *ControlBlock) recvInClosing(seg Segment) (Flags, error) {
	if seg.Flags.HasAny(FlagACK) {
		tcb._state = StateTimeWait
	}
	return 0, nil
}

// recvInTimeWait handles segments that arrive after we've already seen the
// peer's FIN: a retransmitted FIN (the peer never saw our ACK) just gets
// re-ACKed. The 2MSL timer, not the segment stream, drives the eventual
// transition to CLOSED.
func (tcb *ControlBlock) recvInTimeWait(seg Segment) (Flags, error) {
	if seg.Flags.HasAny(FlagFIN) {
		return FlagACK, nil
	}
	return 0, nil
}

// recvInCloseWait is a no-op. Our own FIN does not wait for a local Close
// call: recvInEstablished queues it behind the ACK of the peer's FIN, and
// Send moves the connection on to LAST-ACK once that FIN goes out.
func (tcb *ControlBlock) recvInCloseWait(seg Segment) (Flags, error) {
	return 0, nil
}

// recvInLastAck waits for the peer's ACK of our FIN, the final step before
// the connection is fully torn down.
func (tcb *ControlBlock) recvInLastAck(seg Segment) (Flags, error) {
	if seg.Flags.HasAny(FlagACK) {
		tcb.close()
	}
	return 0, nil
}
