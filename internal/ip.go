package internal

import (
	"encoding/binary"
	"errors"
)

var (
	errUnsupportedIP = errors.New("unsupported IP version")
	errAddrLen       = errors.New("mismatched length of ip addr")
)

// SetIPAddrs overwrites the source/destination address fields (and optionally
// the ID field) of a raw IPv4 datagram in place.
func SetIPAddrs(buf []byte, id uint16, src, dst []byte) (err error) {
	if len(buf) < 20 || buf[0]>>4 != 4 {
		return errUnsupportedIP
	}
	srcaddr := buf[12:16]
	dstaddr := buf[16:20]
	if id > 0 {
		binary.BigEndian.PutUint16(buf[4:6], id)
	}
	if src != nil && len(srcaddr) != len(src) {
		return errAddrLen
	}
	if dst != nil && len(dstaddr) != len(dst) {
		return errAddrLen
	}
	copy(srcaddr, src)
	copy(dstaddr, dst)
	return nil
}
