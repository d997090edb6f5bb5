package tcp

import (
	"testing"
	"time"
)

func TestCongestionSlowStartThenAvoidance(t *testing.T) {
	var c Congestion
	c.init(1000)
	if c.cwnd != 10000 {
		t.Fatalf("expected initial window of 10*MSS, got %d", c.cwnd)
	}
	if c.ssthresh == 0 {
		t.Fatal("expected ssthresh to start unbounded")
	}

	c.ssthresh = 15000 // Force a boundary we can cross within the test.
	before := c.cwnd
	c.onAck()
	if c.cwnd != before+c.mss {
		t.Fatalf("slow start should grow cwnd by one MSS per ACK, got %d -> %d", before, c.cwnd)
	}

	c.cwnd = c.ssthresh // Enter congestion avoidance.
	before = c.cwnd
	wantInc := c.mss * c.mss / before
	if wantInc < 1 {
		wantInc = 1
	}
	c.onAck()
	if c.cwnd != before+wantInc {
		t.Fatalf("congestion avoidance should grow by MSS^2/cwnd, got %d -> %d (want +%d)", before, c.cwnd, wantInc)
	}
}

func TestCongestionOnTimeoutCollapses(t *testing.T) {
	var c Congestion
	c.init(1000)
	c.onTimeout(20000)
	if c.cwnd != c.mss {
		t.Fatalf("expected cwnd to collapse to one MSS, got %d", c.cwnd)
	}
	if c.ssthresh != 10000 {
		t.Fatalf("expected ssthresh to halve the flight size, got %d", c.ssthresh)
	}

	c.onTimeout(100) // Flight size/2 below the 2*MSS floor.
	if c.ssthresh != 2*c.mss {
		t.Fatalf("expected ssthresh to floor at 2*MSS, got %d", c.ssthresh)
	}
}

func TestRetransmitterSweepBacksOffAndGivesUp(t *testing.T) {
	var rt Retransmitter
	rt.Init(500)

	start := time.Unix(0, 0)
	seg := Segment{SEQ: 1, DATALEN: 10}
	rt.Enqueue(start, seg, []byte("0123456789"))

	now := start
	var lastActions []RetransmitAction
	for i := 0; i < maxRetransmits; i++ {
		deadline, ok := rt.NextDeadline()
		if !ok {
			t.Fatalf("attempt %d: expected a pending deadline", i)
		}
		now = deadline // Land exactly on the deadline; Sweep treats !After(now) as due.
		actions, giveUp := rt.Sweep(now, 10)
		if giveUp {
			if i != maxRetransmits-1 {
				t.Fatalf("gave up too early, at attempt %d", i)
			}
			return
		}
		if len(actions) != 1 {
			t.Fatalf("attempt %d: expected one retransmit action, got %d", i, len(actions))
		}
		lastActions = actions
	}
	t.Fatalf("expected to give up within %d attempts, last actions: %v", maxRetransmits, lastActions)
}

func TestRetransmitterAckPrunesAndSamplesRTT(t *testing.T) {
	var rt Retransmitter
	rt.Init(500)

	start := time.Unix(0, 0)
	seg := Segment{SEQ: 1, DATALEN: 10}
	rt.Enqueue(start, seg, []byte("0123456789"))
	if !rt.Pending() {
		t.Fatal("expected the segment to be outstanding")
	}

	acked := rt.Ack(start.Add(50*time.Millisecond), 11)
	if !acked {
		t.Fatal("expected Ack to report the segment as acknowledged")
	}
	if rt.Pending() {
		t.Fatal("fully acked segment should be pruned from the queue")
	}
	if !rt.haveSample || rt.srtt != 50*time.Millisecond {
		t.Fatalf("expected an RTT sample of 50ms, got srtt=%v haveSample=%v", rt.srtt, rt.haveSample)
	}
}

func TestRetransmitterKarnsAlgorithmExcludesResent(t *testing.T) {
	var rt Retransmitter
	rt.Init(500)

	start := time.Unix(0, 0)
	seg := Segment{SEQ: 1, DATALEN: 10}
	rt.Enqueue(start, seg, []byte("0123456789"))

	// Force a retransmit so the segment is marked resent.
	rt.Sweep(start.Add(rt.rto*2), 10)

	acked := rt.Ack(start.Add(time.Second), 11)
	if !acked {
		t.Fatal("expected the retransmitted segment to still be acknowledgeable")
	}
	if rt.haveSample {
		t.Fatal("Karn's algorithm forbids sampling RTT from a retransmitted segment")
	}
}
