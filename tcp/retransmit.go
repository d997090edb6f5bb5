package tcp

import "time"

// RTO bounds per RFC 6298 §2.4.
const (
	minRTO = time.Second
	maxRTO = 60 * time.Second

	maxRetransmits = 15 // RFC 6298 §5: give up after this many consecutive retries.
)

// outstandingSegment is one sent-but-unacknowledged segment awaiting an ACK or
// its retransmission deadline, per the per-connection retransmission queue of §3.
type outstandingSegment struct {
	seq        Value
	flags      Flags
	payload    []byte
	firstSend  time.Time
	deadline   time.Time
	retransmit int  // number of times this segment has been retransmitted.
	resent     bool // true once retransmitted; excluded from RTT sampling (Karn's algorithm).
}

// end returns the sequence number just past the segment, counting a SYN or
// FIN as one octet the way [Segment.LEN] does.
func (s *outstandingSegment) end() Value {
	seg := Segment{Flags: s.flags, DATALEN: Size(len(s.payload))}
	return Add(s.seq, seg.LEN())
}

// RetransmitAction is what the retransmission engine asks the caller to do for
// a timed-out segment.
type RetransmitAction struct {
	Seq     Value
	Flags   Flags
	Payload []byte
	Attempt int
}

// Retransmitter tracks outstanding (unacknowledged) segments for one connection
// and computes RTO per RFC 6298. Congestion window bookkeeping lives in
// [Congestion], embedded here since both are driven by the same ACK/timeout
// events and queried together by the owning TCB.
type Retransmitter struct {
	queue []outstandingSegment

	srtt, rttvar time.Duration
	rto          time.Duration
	haveSample   bool

	consecutiveTimeouts int

	Congestion
}

// Init resets the retransmitter to its initial state for a new connection.
func (rt *Retransmitter) Init(mss Size) {
	*rt = Retransmitter{rto: minRTO}
	rt.Congestion.init(mss)
}

// RTO returns the current retransmission timeout.
func (rt *Retransmitter) RTO() time.Duration { return rt.rto }

// SRTT returns the current smoothed round-trip time estimate.
func (rt *Retransmitter) SRTT() time.Duration { return rt.srtt }

// ConsecutiveTimeouts returns the number of retransmit timeouts observed so
// far this connection; reset only by Init/Reset.
func (rt *Retransmitter) ConsecutiveTimeouts() int { return rt.consecutiveTimeouts }

// Enqueue records a newly sent segment that consumes sequence space (data,
// SYN, or FIN) as outstanding, armed with a deadline of now+RTO. payload is
// retained by reference to the owner's send buffer and must not be mutated
// until the segment is acknowledged or retransmitted.
func (rt *Retransmitter) Enqueue(now time.Time, seg Segment, payload []byte) {
	if seg.LEN() == 0 {
		return // Pure ACK; nothing to retransmit.
	}
	rt.queue = append(rt.queue, outstandingSegment{
		seq:       seg.SEQ,
		flags:     seg.Flags,
		payload:   payload,
		firstSend: now,
		deadline:  now.Add(rt.rto),
	})
}

// Pending reports whether any segment awaits acknowledgment.
func (rt *Retransmitter) Pending() bool { return len(rt.queue) > 0 }

// NextDeadline returns the earliest pending retransmit deadline and true, or
// the zero Time and false if the queue is empty.
func (rt *Retransmitter) NextDeadline() (time.Time, bool) {
	if len(rt.queue) == 0 {
		return time.Time{}, false
	}
	earliest := rt.queue[0].deadline
	for _, s := range rt.queue[1:] {
		if s.deadline.Before(earliest) {
			earliest = s.deadline
		}
	}
	return earliest, true
}

// Ack prunes every queued segment whose seq+len <= ack (fully acknowledged),
// samples RTT from the first non-retransmitted segment found among them
// (Karn's algorithm), and runs the ACK-driven congestion control update for
// each one newly acknowledged. It returns whether any segment was acked.
func (rt *Retransmitter) Ack(now time.Time, ack Value) (ackedAny bool) {
	kept := rt.queue[:0]
	sampled := false
	for i := range rt.queue {
		s := &rt.queue[i]
		if s.end().LessThanEq(ack) {
			ackedAny = true
			if !s.resent && !sampled {
				rt.sampleRTT(now.Sub(s.firstSend))
				sampled = true
			}
			rt.Congestion.onAck()
			continue
		}
		kept = append(kept, *s)
	}
	rt.queue = kept
	if len(rt.queue) == 0 {
		return ackedAny
	}
	for i := range rt.queue {
		rt.queue[i].deadline = now.Add(rt.rto)
	}
	return ackedAny
}

// sampleRTT feeds a fresh round-trip measurement into the SRTT/RTTVAR/RTO
// estimator per RFC 6298 §2.
func (rt *Retransmitter) sampleRTT(r time.Duration) {
	if r <= 0 {
		return
	}
	if !rt.haveSample {
		rt.srtt = r
		rt.rttvar = r / 2
		rt.haveSample = true
	} else {
		diff := rt.srtt - r
		if diff < 0 {
			diff = -diff
		}
		rt.rttvar = (3*rt.rttvar + diff) / 4
		rt.srtt = (7*rt.srtt + r) / 8
	}
	rttvar := rt.rttvar
	const minRTTVAR = 25 * time.Millisecond
	if rttvar < minRTTVAR {
		rttvar = minRTTVAR
	}
	rt.rto = clampRTO(rt.srtt + 4*rttvar)
}

func clampRTO(d time.Duration) time.Duration {
	if d < minRTO {
		return minRTO
	}
	if d > maxRTO {
		return maxRTO
	}
	return d
}

// Sweep examines the retransmission queue against now and returns the actions
// the caller must perform: a Retransmit per timed-out segment still under the
// retry limit, or giveUp=true if any segment has reached maxRetransmits (the
// connection should be abandoned; caller may emit RST per the MaxRetransmits
// error policy).
func (rt *Retransmitter) Sweep(now time.Time, flightSize Size) (actions []RetransmitAction, giveUp bool) {
	for i := range rt.queue {
		s := &rt.queue[i]
		if s.deadline.After(now) {
			continue
		}
		s.retransmit++
		rt.consecutiveTimeouts++
		if s.retransmit >= maxRetransmits {
			giveUp = true
			continue
		}
		s.resent = true
		backoff := rt.rto << uint(min(s.retransmit, 6))
		if backoff > maxRTO {
			backoff = maxRTO
		}
		s.deadline = now.Add(backoff)
		actions = append(actions, RetransmitAction{
			Seq:     s.seq,
			Flags:   s.flags,
			Payload: s.payload,
			Attempt: s.retransmit,
		})
	}
	if len(actions) > 0 || giveUp {
		rt.Congestion.onTimeout(flightSize)
	}
	return actions, giveUp
}

// Reset empties the retransmission queue and zeroes the consecutive-timeout
// count. RTT estimates, RTO and congestion state are left as they are; Init
// resets those.
func (rt *Retransmitter) Reset() {
	rt.queue = rt.queue[:0]
	rt.consecutiveTimeouts = 0
}
