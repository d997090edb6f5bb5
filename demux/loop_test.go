package demux

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/swastic7/oxtcp"
	"github.com/swastic7/oxtcp/ipv4"
	"github.com/swastic7/oxtcp/tcp"
)

// pipeInterface is an in-memory Interface: Write appends each frame to a
// slice the test can inspect, and it never produces Read traffic on its own
// (tests drive the loop with handleInbound/flushOutbound directly rather
// than via Run, so nothing ever calls Read).
type pipeInterface struct {
	written [][]byte
}

func (p *pipeInterface) Read([]byte) (int, error) { return 0, nil }

func (p *pipeInterface) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	p.written = append(p.written, cp)
	return len(b), nil
}

const ipHeaderLenTest = 20

// buildSegment assembles one inbound IPv4+TCP frame the way a real peer
// would send it, with a correct header checksum, mirroring how
// (*EventLoop).writeSegment builds outbound ones.
func buildSegment(t *testing.T, src, dst [4]byte, srcPort, dstPort uint16, seg tcp.Segment, payload []byte) []byte {
	t.Helper()
	const tcpHeaderLen = 20
	frame := make([]byte, preambleLen+ipHeaderLenTest+tcpHeaderLen+len(payload))
	binary.BigEndian.PutUint16(frame[2:4], uint16(oxtcp.EtherTypeIPv4))
	ip := frame[preambleLen:]

	ifrm, err := ipv4.NewFrame(ip)
	if err != nil {
		t.Fatal(err)
	}
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTTL(64)
	ifrm.SetFlags(0x4000)
	ifrm.SetProtocol(oxtcp.IPProtoTCP)
	*ifrm.SourceAddr() = src
	*ifrm.DestinationAddr() = dst
	ifrm.SetTotalLength(uint16(ipHeaderLenTest + tcpHeaderLen + len(payload)))
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	tfrm, err := tcp.NewFrame(ip[ipHeaderLenTest:])
	if err != nil {
		t.Fatal(err)
	}
	tfrm.SetSourcePort(srcPort)
	tfrm.SetDestinationPort(dstPort)
	tfrm.SetSegment(seg, 5)
	copy(tfrm.RawData()[tcpHeaderLen:], payload)

	var crc oxtcp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.SetCRC(oxtcp.NeverZeroChecksum(crc.PayloadSum16(tfrm.RawData())))

	return frame
}

// parseSegment extracts the TCP segment and flags carried by one frame
// written to a pipeInterface, skipping the link preamble and IP header.
func parseSegment(t *testing.T, frame []byte) (tcp.Segment, []byte) {
	t.Helper()
	ip := frame[preambleLen:]
	ifrm, err := ipv4.NewFrame(ip)
	if err != nil {
		t.Fatal(err)
	}
	off := ifrm.HeaderLength()
	tfrm, err := tcp.NewFrame(ip[off:int(ifrm.TotalLength())])
	if err != nil {
		t.Fatal(err)
	}
	payload := tfrm.Payload()
	return tfrm.Segment(len(payload)), payload
}

func fixedISS(seed tcp.Value) ISSFunc {
	return func(Quad) tcp.Value { return seed }
}

func TestEventLoopPassiveHandshake(t *testing.T) {
	var iface pipeInterface
	localAddr := [4]byte{10, 0, 0, 1}
	remoteAddr := [4]byte{10, 0, 0, 2}

	e := NewEventLoop(&iface, localAddr, fixedISS(500), nil)

	var accepted Quad
	e.Listen(7000, 4096, tcp.DefaultMSS, func(q Quad) (OnData, OnClose) {
		accepted = q
		return nil, nil
	})

	now := time.Unix(0, 0)
	syn := tcp.Segment{SEQ: 100, WND: 4096, Flags: tcp.FlagSYN}
	frame := buildSegment(t, remoteAddr, localAddr, 5555, 7000, syn, nil)
	e.handleInbound(now, frame)

	if len(e.conns) != 1 {
		t.Fatalf("expected one connection to be tracked, got %d", len(e.conns))
	}
	if accepted.RemotePort != 5555 || accepted.LocalPort != 7000 {
		t.Fatalf("listener saw the wrong quad: %+v", accepted)
	}

	e.flushOutbound(now)
	if len(iface.written) != 1 {
		t.Fatalf("expected a SYN-ACK to be written, got %d frames", len(iface.written))
	}
	synack, _ := parseSegment(t, iface.written[0])
	if !synack.Flags.HasAll(tcp.FlagSYN | tcp.FlagACK) {
		t.Fatalf("expected SYN-ACK, got flags %s", synack.Flags)
	}
	if synack.ACK != syn.SEQ+1 {
		t.Fatalf("expected ACK to be IRS+1=%d, got %d", syn.SEQ+1, synack.ACK)
	}

	// Complete the handshake.
	ack := tcp.Segment{SEQ: syn.SEQ + 1, ACK: synack.SEQ + 1, WND: 4096, Flags: tcp.FlagACK}
	ackFrame := buildSegment(t, remoteAddr, localAddr, 5555, 7000, ack, nil)
	e.handleInbound(now, ackFrame)

	cs := e.conns[accepted]
	if cs.tcb.State() != tcp.StateEstablished {
		t.Fatalf("connection did not reach ESTABLISHED: %s", cs.tcb.State())
	}
}

func TestEventLoopNoListenerSendsRST(t *testing.T) {
	var iface pipeInterface
	localAddr := [4]byte{10, 0, 0, 1}
	remoteAddr := [4]byte{10, 0, 0, 2}

	e := NewEventLoop(&iface, localAddr, fixedISS(500), nil)
	// Deliberately no Listen call: port 9999 has no listener.

	now := time.Unix(0, 0)
	syn := tcp.Segment{SEQ: 42, WND: 4096, Flags: tcp.FlagSYN}
	frame := buildSegment(t, remoteAddr, localAddr, 6000, 9999, syn, nil)
	e.handleInbound(now, frame)

	if len(e.conns) != 0 {
		t.Fatal("expected no connection to be tracked for an unmatched SYN")
	}
	if e.rst.Pending() != 1 {
		t.Fatalf("expected one queued RST, got %d", e.rst.Pending())
	}

	e.flushOutbound(now)
	if len(iface.written) != 1 {
		t.Fatalf("expected the RST to be written, got %d frames", len(iface.written))
	}
	rst, _ := parseSegment(t, iface.written[0])
	if !rst.Flags.HasAll(tcp.FlagRST | tcp.FlagACK) {
		t.Fatalf("expected RST|ACK, got flags %s", rst.Flags)
	}
}

func TestEventLoopTimeWaitExpiresAfter2MSL(t *testing.T) {
	var iface pipeInterface
	localAddr := [4]byte{10, 0, 0, 1}
	remoteAddr := [4]byte{10, 0, 0, 2}
	e := NewEventLoop(&iface, localAddr, fixedISS(500), nil)

	var closed bool
	e.Listen(7000, 4096, tcp.DefaultMSS, func(Quad) (OnData, OnClose) {
		return nil, func(*Conn, error) { closed = true }
	})

	now := time.Unix(0, 0)
	syn := tcp.Segment{SEQ: 100, WND: 4096, Flags: tcp.FlagSYN}
	e.handleInbound(now, buildSegment(t, remoteAddr, localAddr, 5555, 7000, syn, nil))
	e.flushOutbound(now)
	synack, _ := parseSegment(t, iface.written[0])

	ack := tcp.Segment{SEQ: syn.SEQ + 1, ACK: synack.SEQ + 1, WND: 4096, Flags: tcp.FlagACK}
	e.handleInbound(now, buildSegment(t, remoteAddr, localAddr, 5555, 7000, ack, nil))

	quad := Quad{RemoteAddr: remoteAddr, RemotePort: 5555, LocalAddr: localAddr, LocalPort: 7000}
	cs := e.conns[quad]

	// Remote closes first: FIN, then our ACK+FIN, then remote's final ACK.
	fin := tcp.Segment{SEQ: ack.SEQ, ACK: ack.ACK, WND: 4096, Flags: tcp.FlagFIN}
	e.handleInbound(now, buildSegment(t, remoteAddr, localAddr, 5555, 7000, fin, nil))
	e.flushOutbound(now) // Server ACKs the FIN and (since onClose never calls Close) stops there.

	if cs.tcb.State() != tcp.StateCloseWait {
		t.Fatalf("expected CLOSE-WAIT, got %s", cs.tcb.State())
	}
	if err := cs.tcb.Close(); err != nil {
		t.Fatal(err)
	}
	e.flushOutbound(now)

	finAck, _ := parseSegment(t, iface.written[len(iface.written)-1])
	lastAck := tcp.Segment{SEQ: fin.SEQ + 1, ACK: finAck.SEQ + 1, WND: 4096, Flags: tcp.FlagACK}
	e.handleInbound(now, buildSegment(t, remoteAddr, localAddr, 5555, 7000, lastAck, nil))

	if cs.tcb.State() != tcp.StateTimeWait {
		t.Fatalf("expected TIME-WAIT, got %s", cs.tcb.State())
	}
	if closed {
		t.Fatal("onClose must not fire before 2MSL elapses")
	}

	e.sweepTimers(now.Add(twoMSL - time.Second))
	if _, ok := e.conns[quad]; !ok {
		t.Fatal("connection destroyed before 2MSL elapsed")
	}

	e.sweepTimers(now.Add(twoMSL + time.Second))
	if _, ok := e.conns[quad]; ok {
		t.Fatal("connection should be destroyed once 2MSL elapses")
	}
	if !closed {
		t.Fatal("expected onClose to fire on 2MSL expiry")
	}
}
