package tcp

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/swastic7/oxtcp"
)

// Byte offsets of the fixed TCP header fields, per RFC 9293 §3.1. Options (if
// any) begin right after the fixed header and run until HeaderLength().
const (
	offSrcPort     = 0
	offDstPort     = 2
	offSeq         = 4
	offAck         = 8
	offOffsetFlags = 12
	offWindow      = 14
	offCRC         = 16
	offUrgent      = 18
	sizeHeaderTCP  = 20
)

// NewFrame returns a new Frame backed by buf. An error is returned if buf is
// smaller than the fixed 20-byte header. Callers should still run
// [Frame.ValidateSize] before touching options/payload, since a header
// claiming a data offset larger than len(buf) would otherwise panic.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderTCP {
		return Frame{buf: nil}, oxtcp.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame is a view over a raw TCP segment: a thin accessor layer around a byte
// slice, not a copy. Mutating methods write directly into the backing array.
// See [RFC9293].
//
// [RFC9293]: https://datatracker.ietf.org/doc/html/rfc9293
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (tfrm Frame) RawData() []byte { return tfrm.buf }

//
// Port pair.
//

func (tfrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[offSrcPort:]) }
func (tfrm Frame) SetSourcePort(src uint16) {
	binary.BigEndian.PutUint16(tfrm.buf[offSrcPort:], src)
}

func (tfrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[offDstPort:]) }
func (tfrm Frame) SetDestinationPort(dst uint16) {
	binary.BigEndian.PutUint16(tfrm.buf[offDstPort:], dst)
}

//
// Sequence space.
//

// Seq returns the sequence number of the first data octet of this segment,
// except when SYN is set: then it is the Initial Sequence Number, and the
// first data octet (if any) sits at Seq()+1.
func (tfrm Frame) Seq() Value { return Value(binary.BigEndian.Uint32(tfrm.buf[offSeq:])) }

// SetSeq sets Seq field. See [Frame.Seq].
func (tfrm Frame) SetSeq(v Value) { binary.BigEndian.PutUint32(tfrm.buf[offSeq:], uint32(v)) }

// Ack is, when ACK is set, the next sequence number the sender of this
// segment expects to receive: every octet strictly below Ack() has already
// been received. Once a connection is established, ACK is always set.
func (tfrm Frame) Ack() Value { return Value(binary.BigEndian.Uint32(tfrm.buf[offAck:])) }

// SetAck sets Ack field. See [Frame.Ack].
func (tfrm Frame) SetAck(v Value) { binary.BigEndian.PutUint32(tfrm.buf[offAck:], uint32(v)) }

//
// Data offset, flags, window.
//

// OffsetAndFlags returns the data offset (in 32-bit words, including
// options) and the control bits of the header. See [Flags].
func (tfrm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	v := binary.BigEndian.Uint16(tfrm.buf[offOffsetFlags:])
	return uint8(v >> 12), Flags(v).Mask()
}

// SetOffsetAndFlags sets the data offset and control bits. See [Frame.OffsetAndFlags].
func (tfrm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	v := uint16(offset)<<12 | uint16(flags.Mask())
	binary.BigEndian.PutUint16(tfrm.buf[offOffsetFlags:], v)
}

// HeaderLength returns the total header size in bytes (fixed header plus
// options) as encoded in the data-offset field. It performs no validation of
// its own; see [Frame.ValidateSize].
func (tfrm Frame) HeaderLength() int {
	offset, _ := tfrm.OffsetAndFlags()
	return 4 * int(offset)
}

func (tfrm Frame) WindowSize() uint16     { return binary.BigEndian.Uint16(tfrm.buf[offWindow:]) }
func (tfrm Frame) SetWindowSize(v uint16) { binary.BigEndian.PutUint16(tfrm.buf[offWindow:], v) }

//
// Checksum and urgent pointer.
//

// CRC returns the checksum field of the TCP header.
func (tfrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(tfrm.buf[offCRC:]) }

// SetCRC sets the checksum field of the TCP header. See [Frame.CRC].
func (tfrm Frame) SetCRC(checksum uint16) { binary.BigEndian.PutUint16(tfrm.buf[offCRC:], checksum) }

func (tfrm Frame) UrgentPtr() uint16      { return binary.BigEndian.Uint16(tfrm.buf[offUrgent:]) }
func (tfrm Frame) SetUrgentPtr(up uint16) { binary.BigEndian.PutUint16(tfrm.buf[offUrgent:], up) }

//
// Options and payload.
//

// Options returns the variable-length option bytes between the fixed header
// and the payload. The slice may be zero length. Call [Frame.ValidateSize]
// first to avoid a panic on a malformed data offset.
func (tfrm Frame) Options() []byte {
	return tfrm.buf[sizeHeaderTCP:tfrm.HeaderLength()]
}

// ForEachOption walks this frame's option bytes using codec, invoking fn for
// every option kind found. A zero-value [OptionCodec] is the strict decoder;
// set its Flags to relax kind-specific size checks or skip obsolete kinds.
func (tfrm Frame) ForEachOption(codec OptionCodec, fn func(OptionKind, []byte) error) error {
	return codec.ForEachOption(tfrm.Options(), fn)
}

// Payload returns the segment data following the header and any options.
// Call [Frame.ValidateSize] first to avoid a panic on a malformed data offset.
func (tfrm Frame) Payload() []byte {
	return tfrm.buf[tfrm.HeaderLength():]
}

//
// Segment <-> Frame conversion.
//

// Segment reinterprets the frame's fixed header fields as a [Segment],
// carrying payloadSize (options are never counted in DATALEN).
func (tfrm Frame) Segment(payloadSize int) Segment {
	if payloadSize > math.MaxInt32 {
		panic("TCP overflow payload size")
	}
	_, flags := tfrm.OffsetAndFlags()
	return Segment{
		SEQ:     tfrm.Seq(),
		ACK:     tfrm.Ack(),
		WND:     Size(tfrm.WindowSize()),
		DATALEN: Size(payloadSize),
		Flags:   flags,
	}
}

// SetSegment writes seg's sequence, ack, window and flag fields into the
// frame's fixed header, with a data offset of offset 32-bit words (minimum 5,
// i.e. no options).
func (tfrm Frame) SetSegment(seg Segment, offset uint8) {
	if offset >= 1<<4 {
		panic("tcp offset too large")
	} else if seg.WND > math.MaxUint16 {
		panic("tcp window overflow")
	}
	tfrm.SetSeq(seg.SEQ)
	tfrm.SetAck(seg.ACK)
	tfrm.SetOffsetAndFlags(offset, seg.Flags)
	tfrm.SetWindowSize(uint16(seg.WND))
}

// ClearHeader zeros the fixed (non-variable) header bytes, leaving any
// options/payload beyond the fixed header untouched.
func (tfrm Frame) ClearHeader() {
	for i := range tfrm.buf[:sizeHeaderTCP] {
		tfrm.buf[i] = 0
	}
}

func (tfrm Frame) String() string {
	seg := tfrm.Segment(len(tfrm.Payload()))
	return fmt.Sprintf("TCP :%d -> :%d %s", tfrm.SourcePort(), tfrm.DestinationPort(), seg.String())
}

//
// Validation.
//

// ValidateSize checks the data-offset field against the backing buffer's
// actual length, reporting any inconsistency through v.
func (tfrm Frame) ValidateSize(v *oxtcp.Validator) {
	off := tfrm.HeaderLength()
	if off < sizeHeaderTCP {
		v.AddBitPosErr(offOffsetFlags*8, 4, oxtcp.ErrInvalidLengthField)
	}
	if off > len(tfrm.RawData()) {
		v.AddBitPosErr(offOffsetFlags*8, 4, oxtcp.ErrInvalidLengthField)
	}
}

// ValidateExceptCRC runs every header sanity check except the checksum,
// which callers validate separately against the IPv4 pseudo-header.
func (tfrm Frame) ValidateExceptCRC(v *oxtcp.Validator) {
	tfrm.ValidateSize(v)
	if tfrm.DestinationPort() == 0 {
		v.AddBitPosErr(offDstPort*8, 16, oxtcp.ErrZeroDestination)
	}
	if tfrm.SourcePort() == 0 {
		v.AddBitPosErr(offSrcPort*8, 16, oxtcp.ErrZeroSource)
	}
}
