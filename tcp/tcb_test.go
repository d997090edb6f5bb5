package tcp

import (
	"bytes"
	"testing"
	"time"
)

// tcbHandshake drives client and server TCBs through the 3-way handshake
// using Emit/Accept so the retransmission queue is exercised the same way
// the event loop drives it, except for the client's initial SYN: nothing in
// this module originates active opens (the daemon only accepts inbound
// connections), so the SYN is sent directly via the embedded ControlBlock,
// matching [ClientSynSegment]'s documented usage.
func tcbHandshake(t *testing.T, now time.Time, client, server *TCB) {
	t.Helper()
	client.Init(DefaultMSS)
	server.Init(DefaultMSS)
	if err := server.Open(500, 4096); err != nil {
		t.Fatal("server open:", err)
	}
	// A real peer always advertises a real receive window; set it explicitly
	// since nothing in this module ever plays the client role (the daemon
	// only ever accepts inbound connections, so TCB itself has no notion of
	// an active-open receive window default).
	client.SetRecvWindow(4096)

	syn := ClientSynSegment(100, 4096)
	if err := client.Send(syn); err != nil {
		t.Fatal("client send SYN:", err)
	}
	client.Retransmitter.Enqueue(now, syn, nil)

	if _, err := server.Accept(now, syn, nil); err != nil {
		t.Fatal("server accept SYN:", err)
	}
	synack, ok := server.Emit(now, nil)
	if !ok || !synack.Flags.HasAll(FlagSYN|FlagACK) {
		t.Fatal("server did not emit SYN-ACK:", synack)
	}

	if _, err := client.Accept(now, synack, nil); err != nil {
		t.Fatal("client accept SYN-ACK:", err)
	}
	if client.State() != StateEstablished {
		t.Fatal("client did not reach ESTABLISHED:", client.State())
	}

	ack, ok := client.Emit(now, nil)
	if !ok || !ack.Flags.HasAll(FlagACK) {
		t.Fatal("client did not emit final ACK:", ack)
	}
	if _, err := server.Accept(now, ack, nil); err != nil {
		t.Fatal("server accept final ACK:", err)
	}
	if server.State() != StateEstablished {
		t.Fatal("server did not reach ESTABLISHED:", server.State())
	}
	if client.Retransmitter.Pending() {
		t.Fatal("client's SYN should be acked by now")
	}
}

func TestTCBHandshakeAndDataTransfer(t *testing.T) {
	now := time.Unix(0, 0)
	var client, server TCB
	tcbHandshake(t, now, &client, &server)

	payload := []byte("hello world")
	seg, ok := server.Emit(now, payload)
	if !ok {
		t.Fatal("server did not emit data segment")
	}
	if seg.DATALEN == 0 {
		t.Fatal("expected a non-empty data segment")
	}
	sent := payload[:int(seg.DATALEN)]

	delivered, err := client.Accept(now, seg, sent)
	if err != nil {
		t.Fatal("client accept data:", err)
	}
	if len(delivered) != 1 || !bytes.Equal(delivered[0], sent) {
		t.Fatalf("client did not receive the payload intact: %q", delivered)
	}

	ack, ok := client.Emit(now, nil)
	if !ok || !ack.Flags.HasAll(FlagACK) {
		t.Fatal("client did not emit ACK for the data:", ack)
	}
	if _, err := server.Accept(now, ack, nil); err != nil {
		t.Fatal("server accept data ACK:", err)
	}
	if server.Retransmitter.Pending() {
		t.Fatal("expected the data segment to be fully acked and pruned")
	}
}

func TestTCBOutOfOrderSegmentsBufferThenDrain(t *testing.T) {
	now := time.Unix(0, 0)
	var client, server TCB
	tcbHandshake(t, now, &client, &server)

	nxt := server.RecvNext()
	una := server.snd.NXT // what the client should be acking: nothing new sent since the handshake.
	first := []byte("hello-")
	second := []byte("world!")

	seg2 := Segment{SEQ: nxt + Value(len(first)), ACK: una, Flags: FlagACK, WND: 4096, DATALEN: Size(len(second))}
	delivered, err := server.Accept(now, seg2, second)
	if err != nil {
		t.Fatal("server should buffer the out-of-order segment, not reject it:", err)
	}
	if len(delivered) != 0 {
		t.Fatal("out-of-order segment must not be delivered yet")
	}
	if server.Reassembly.Pending() != 1 {
		t.Fatalf("expected one buffered out-of-order segment, got %d", server.Reassembly.Pending())
	}

	seg1 := Segment{SEQ: nxt, ACK: una, Flags: FlagACK, WND: 4096, DATALEN: Size(len(first))}
	delivered, err = server.Accept(now, seg1, first)
	if err != nil {
		t.Fatal("server accept in-order segment:", err)
	}
	if len(delivered) != 2 || !bytes.Equal(delivered[0], first) || !bytes.Equal(delivered[1], second) {
		t.Fatalf("expected both chunks delivered in order, got %q", delivered)
	}
	if server.Reassembly.Pending() != 0 {
		t.Fatal("expected the reassembly buffer to drain completely")
	}
}

func TestTCBTickRetransmitsThenGivesUp(t *testing.T) {
	now := time.Unix(0, 0)
	var client, server TCB
	tcbHandshake(t, now, &client, &server)

	seg, ok := server.Emit(now, []byte("unacked"))
	if !ok {
		t.Fatal("server did not emit data segment")
	}
	_ = seg

	var gaveUp bool
	for i := 0; i < maxRetransmits && !gaveUp; i++ {
		deadline, ok := server.Retransmitter.NextDeadline()
		if !ok {
			t.Fatal("expected a pending retransmit deadline")
		}
		var actions []RetransmitAction
		actions, gaveUp = server.Tick(deadline)
		if !gaveUp && len(actions) != 1 {
			t.Fatalf("attempt %d: expected exactly one retransmit action, got %d", i, len(actions))
		}
	}
	if !gaveUp {
		t.Fatalf("expected the retransmitter to give up within %d attempts", maxRetransmits)
	}
}
