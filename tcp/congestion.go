package tcp

import "math"

// DefaultMSS is used when a connection negotiates no MSS option, per RFC 9293 §3.7.1.
const DefaultMSS Size = 1460

// Congestion implements the RFC 5681 congestion avoidance state machine with
// the RFC 6928 initial window. It is embedded in [Retransmitter], which
// drives it from ACK and retransmission-timeout events.
type Congestion struct {
	mss      Size
	cwnd     Size
	ssthresh Size
}

// init resets congestion state for a fresh connection: cwnd starts at 10*MSS
// per RFC 6928, ssthresh starts unbounded so the connection begins in slow start.
func (c *Congestion) init(mss Size) {
	if mss == 0 {
		mss = DefaultMSS
	}
	c.mss = mss
	c.cwnd = 10 * mss
	c.ssthresh = math.MaxUint32
}

// MSS returns the negotiated maximum segment size.
func (c *Congestion) MSS() Size { return c.mss }

// Cwnd returns the current congestion window.
func (c *Congestion) Cwnd() Size { return c.cwnd }

// Ssthresh returns the current slow-start threshold.
func (c *Congestion) Ssthresh() Size { return c.ssthresh }

// onAck grows cwnd for one newly-acknowledged segment: by one MSS per ACK
// during slow start (cwnd < ssthresh), or by roughly MSS²/cwnd during
// congestion avoidance, per RFC 5681 §3.1.
func (c *Congestion) onAck() {
	if c.cwnd < c.ssthresh {
		c.cwnd += c.mss
		return
	}
	inc := c.mss * c.mss / c.cwnd
	if inc < 1 {
		inc = 1
	}
	c.cwnd += inc
}

// onTimeout reacts to a retransmission timeout per RFC 5681 §3.1: ssthresh
// drops to half the flight size (floored at 2*MSS) and cwnd collapses to one
// MSS, restarting slow start.
func (c *Congestion) onTimeout(flightSize Size) {
	half := flightSize / 2
	floor := 2 * c.mss
	if half > floor {
		c.ssthresh = half
	} else {
		c.ssthresh = floor
	}
	c.cwnd = c.mss
}
