package tcp

import "testing"

// handshake drives client and server ControlBlocks through the 3-way
// handshake, exchanging Segments directly (no wire encoding involved; that is
// exercised separately by frame_test.go and the demux package).
func handshake(t *testing.T, client, server *ControlBlock) {
	t.Helper()
	if err := server.Open(500, 4096); err != nil {
		t.Fatal("server open:", err)
	}
	if server.State() != StateListen {
		t.Fatal("server did not enter LISTEN")
	}

	syn := ClientSynSegment(100, 4096)
	if err := client.Send(syn); err != nil {
		t.Fatal("client send SYN:", err)
	}
	if client.State() != StateSynSent {
		t.Fatal("client did not enter SYN-SENT:", client.State())
	}

	if err := server.Recv(syn); err != nil {
		t.Fatal("server recv SYN:", err)
	}
	if server.State() != StateSynRcvd {
		t.Fatal("server did not enter SYN-RCVD:", server.State())
	}

	synack, ok := server.PendingSegment(0, unlimitedCwnd)
	if !ok || !synack.Flags.HasAll(FlagSYN|FlagACK) {
		t.Fatal("server did not queue SYN-ACK:", synack)
	}
	if err := server.Send(synack); err != nil {
		t.Fatal("server send SYN-ACK:", err)
	}

	if err := client.Recv(synack); err != nil {
		t.Fatal("client recv SYN-ACK:", err)
	}
	if client.State() != StateEstablished {
		t.Fatal("client did not enter ESTABLISHED:", client.State())
	}

	ack, ok := client.PendingSegment(0, unlimitedCwnd)
	if !ok || !ack.Flags.HasAll(FlagACK) {
		t.Fatal("client did not queue final ACK:", ack)
	}
	if err := client.Send(ack); err != nil {
		t.Fatal("client send ACK:", err)
	}
	if err := server.Recv(ack); err != nil {
		t.Fatal("server recv ACK:", err)
	}
	if server.State() != StateEstablished {
		t.Fatal("server did not enter ESTABLISHED:", server.State())
	}
}

func TestHandshake(t *testing.T) {
	var client, server ControlBlock
	handshake(t, &client, &server)
}

func TestGracefulClose(t *testing.T) {
	var client, server ControlBlock
	handshake(t, &client, &server)

	if err := client.Close(); err != nil {
		t.Fatal("client close:", err)
	}
	fin, ok := client.PendingSegment(0, unlimitedCwnd)
	if !ok || !fin.Flags.HasAll(FlagFIN) {
		t.Fatal("client did not queue FIN:", fin)
	}
	if err := client.Send(fin); err != nil {
		t.Fatal("client send FIN:", err)
	}
	if client.State() != StateFinWait1 {
		t.Fatal("client did not enter FIN-WAIT-1:", client.State())
	}

	if err := server.Recv(fin); err != nil {
		t.Fatal("server recv FIN:", err)
	}
	if server.State() != StateCloseWait {
		t.Fatal("server did not enter CLOSE-WAIT:", server.State())
	}
	finAck, ok := server.PendingSegment(0, unlimitedCwnd)
	if !ok || !finAck.Flags.HasAll(FlagACK) {
		t.Fatal("server did not queue ACK of FIN:", finAck)
	}
	if err := server.Send(finAck); err != nil {
		t.Fatal("server send ACK:", err)
	}
	if err := client.Recv(finAck); err != nil {
		t.Fatal("client recv ACK of FIN:", err)
	}
	if client.State() != StateFinWait2 {
		t.Fatal("client did not enter FIN-WAIT-2:", client.State())
	}

	if err := server.Close(); err != nil {
		t.Fatal("server close:", err)
	}
	if server.State() != StateLastAck {
		t.Fatal("server did not enter LAST-ACK:", server.State())
	}
	srvFin, ok := server.PendingSegment(0, unlimitedCwnd)
	if !ok || !srvFin.Flags.HasAll(FlagFIN) {
		t.Fatal("server did not queue its FIN:", srvFin)
	}
	// PendingSegment does not itself set ACK for a LAST-ACK FIN (only the
	// ESTABLISHED case forces it); a real peer always ACKs alongside, so send
	// the FIN|ACK form, matching how the wire segment actually looks.
	srvFin.Flags |= FlagACK
	srvFin.ACK = server.RecvNext()
	if err := server.Send(srvFin); err != nil {
		t.Fatal("server send FIN:", err)
	}

	if err := client.Recv(srvFin); err != nil {
		t.Fatal("client recv server FIN:", err)
	}
	if client.State() != StateTimeWait {
		t.Fatal("client did not enter TIME-WAIT:", client.State())
	}
	lastAck, ok := client.PendingSegment(0, unlimitedCwnd)
	if !ok || !lastAck.Flags.HasAll(FlagACK) {
		t.Fatal("client did not queue last ACK:", lastAck)
	}
	if err := client.Send(lastAck); err != nil {
		t.Fatal("client send last ACK:", err)
	}
	if err := server.Recv(lastAck); err != nil {
		t.Fatal("server recv last ACK:", err)
	}
	if server.State() != StateClosed {
		t.Fatal("server did not reach CLOSED:", server.State())
	}
}

func TestDuplicateACKDoesNotAdvance(t *testing.T) {
	var client, server ControlBlock
	handshake(t, &client, &server)

	una := server.snd.UNA
	dup := Segment{SEQ: client.ISS() + 1, ACK: server.snd.UNA, Flags: FlagACK, WND: 4096}
	if err := server.Recv(dup); err != errDropSegment {
		t.Fatalf("expected duplicate ACK to be dropped with errDropSegment, got %v", err)
	}
	if server.snd.UNA != una {
		t.Fatal("duplicate ACK must not move snd.UNA")
	}
}

func TestOutOfOrderSegmentReportedByControlBlock(t *testing.T) {
	var client, server ControlBlock
	handshake(t, &client, &server)

	// ControlBlock itself holds no reassembly buffer (see TCB.Accept for
	// that), so an in-window but non-sequential segment is reported, not
	// silently buffered.
	gapped := Segment{SEQ: server.RecvNext() + 10, ACK: server.snd.UNA, Flags: FlagACK, WND: 4096, DATALEN: 4}
	err := server.Recv(gapped)
	if err != errOutOfOrder {
		t.Fatalf("expected errOutOfOrder, got %v", err)
	}
}
