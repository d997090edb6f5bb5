package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/swastic7/oxtcp/demux"
	"github.com/swastic7/oxtcp/tcp"
)

// issGenerator derives unpredictable initial sequence numbers per RFC 6528,
// keyed on a process-lifetime random secret plus the connection's four-tuple
// and a monotonic counter, via HKDF-SHA256 expansion rather than a bare
// crypto/rand read per connection.
type issGenerator struct {
	secret  [32]byte
	counter uint64
}

func newISSGenerator() (*issGenerator, error) {
	g := &issGenerator{}
	_, err := io.ReadFull(rand.Reader, g.secret[:])
	if err != nil {
		return nil, err
	}
	return g, nil
}

// next implements demux.ISSFunc. Called only from the event loop's single
// goroutine, so the counter needs no synchronization.
func (g *issGenerator) next(quad demux.Quad) tcp.Value {
	g.counter++

	info := make([]byte, 0, 4+2+4+2+8)
	info = append(info, quad.RemoteAddr[:]...)
	info = append(info, byte(quad.RemotePort>>8), byte(quad.RemotePort))
	info = append(info, quad.LocalAddr[:]...)
	info = append(info, byte(quad.LocalPort>>8), byte(quad.LocalPort))
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], g.counter)
	info = append(info, ctr[:]...)

	kdf := hkdf.New(sha256.New, g.secret[:], nil, info)
	var out [4]byte
	io.ReadFull(kdf, out[:])
	return tcp.Value(binary.BigEndian.Uint32(out[:]))
}
