// Package demux maps inbound IPv4+TCP datagrams to a connection by four-tuple,
// drives each connection's state machine, and fires retransmission timers from
// a single cooperative event loop.
package demux

import "strconv"

// Quad is the immutable four-tuple identifying a TCP connection: the remote
// peer's address and port, and the local address and port it connected to.
// Two connections never share a Quad.
type Quad struct {
	RemoteAddr [4]byte
	RemotePort uint16
	LocalAddr  [4]byte
	LocalPort  uint16
}

func (q Quad) String() string {
	return ipString(q.RemoteAddr) + ":" + strconv.Itoa(int(q.RemotePort)) +
		"->" + ipString(q.LocalAddr) + ":" + strconv.Itoa(int(q.LocalPort))
}

func ipString(a [4]byte) string {
	return strconv.Itoa(int(a[0])) + "." + strconv.Itoa(int(a[1])) + "." +
		strconv.Itoa(int(a[2])) + "." + strconv.Itoa(int(a[3]))
}
