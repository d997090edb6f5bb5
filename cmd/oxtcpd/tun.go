package main

import (
	"encoding/binary"
	"io"

	"github.com/songgao/water"

	"github.com/swastic7/oxtcp"
)

// preambleLen mirrors demux.Interface's framing contract: 2 bytes of flags
// (zero on write, ignored on read) followed by a big-endian EtherType.
const preambleLen = 4

// tunInterface adapts a *water.Interface — a raw TUN device delivering bare
// IPv4 datagrams with no link-layer framing — to demux.Interface, which
// expects every frame prefixed with the flags+EtherType preamble. This is the
// only file in the module that imports water; the event loop only ever sees
// the demux.Interface abstraction.
type tunInterface struct {
	dev *water.Interface
}

func openTun(name string) (*tunInterface, error) {
	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name
	dev, err := water.New(cfg)
	if err != nil {
		return nil, err
	}
	return &tunInterface{dev: dev}, nil
}

func (t *tunInterface) Read(p []byte) (int, error) {
	if len(p) < preambleLen {
		return 0, io.ErrShortBuffer
	}
	n, err := t.dev.Read(p[preambleLen:])
	if err != nil {
		return 0, err
	}
	p[0], p[1] = 0, 0
	binary.BigEndian.PutUint16(p[2:4], uint16(oxtcp.EtherTypeIPv4))
	return preambleLen + n, nil
}

func (t *tunInterface) Write(p []byte) (int, error) {
	if len(p) < preambleLen {
		return 0, io.ErrShortWrite
	}
	n, err := t.dev.Write(p[preambleLen:])
	return n + preambleLen, err
}

func (t *tunInterface) Close() error { return t.dev.Close() }

func (t *tunInterface) Name() string { return t.dev.Name() }
