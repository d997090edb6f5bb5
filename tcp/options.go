package tcp

import (
	"strings"

	"github.com/swastic7/oxtcp"
)

// OptionKind identifies a TCP option as registered with IANA (RFC 9293 §3.1
// plus later extensions); see
// https://www.iana.org/assignments/tcp-parameters/tcp-parameters.xhtml.
type OptionKind uint8

const (
	OptEnd                   OptionKind = iota // end of option list
	OptNop                                     // no-operation
	OptMaxSegmentSize                          // maximum segment size
	OptWindowScale                             // window scale
	OptSACKPermitted                           // SACK permitted
	OptSACK                                    // SACK
	OptEcho                                    // echo(obsolete)
	optEchoReply                               // echo reply(obsolete)
	OptTimestamps                              // timestamps
	optPOCP                                     // partial order connection permitted(obsolete)
	optPOSP                                     // partial order service profile(obsolete)
	optCC                                       // CC(obsolete)
	optCCnew                                    // CC.new(obsolete)
	optCCecho                                   // CC.echo(obsolete)
	optACR                                      // alternate checksum request(obsolete)
	optACD                                      // alternate checksum data(obsolete)
	optSkeeter                                  // skeeter
	optBubba                                    // bubba
	OptTrailerChecksum                          // trailer checksum
	optMD5Signature                             // MD5 signature(obsolete)
	OptSCPSCapabilities                         // SCPS capabilities
	OptSNA                                       // selective negative acks
	OptRecordBoundaries                          // record boundaries
	OptCorruptionExperienced                     // corruption experienced
	OptSNAP                                      // SNAP
	OptUnassigned                                 // unassigned
	OptCompressionFilter                          // compression filter
	OptQuickStartResponse                         // quick-start response
	OptUserTimeout                                // user timeout or unauthorized use
	OptAuthetication                              // Authentication TCP-AO
	OptMultipath                                   // multipath TCP
)

const (
	OptFastOpenCookie        OptionKind = 34  // fast open cookie
	OptEncryptionNegotiation OptionKind = 69  // encryption negotiation
	OptAccurateECN0          OptionKind = 172 // accurate ECN order 0
	OptAccurateECN1          OptionKind = 174 // accurate ECN order 1
)

// IsObsolete returns true if kind is considered obsolete by newer TCP specifications.
func (kind OptionKind) IsObsolete() bool {
	return kind.IsDefined() && strings.HasSuffix(kind.String(), "(obsolete)")
}

// IsDefined returns true if kind is a known, unreserved option kind.
func (kind OptionKind) IsDefined() bool {
	return kind <= 30 || kind == 34 || kind == 69 || kind == 172 || kind == 174
}

// fixedOptionSize returns the required total size (kind+length+data bytes)
// of options whose length is mandated by their spec, or -1 for options whose
// length is variable (or not checked here).
func fixedOptionSize(kind OptionKind) int {
	switch kind {
	case OptTimestamps:
		return 10
	case OptMaxSegmentSize, OptUserTimeout:
		return 4
	case OptWindowScale:
		return 3
	case OptSACKPermitted:
		return 2
	default:
		return -1
	}
}

// OptionFlags tunes how [OptionCodec.ForEachOption] treats the option stream.
type OptionFlags uint8

const (
	OptFlagSkipSizeValidation OptionFlags = 1 << iota // don't reject options whose size disagrees with fixedOptionSize
	OptFlagSkipObsolete                                // don't invoke fn for options IsObsolete reports true for
)

func (flags OptionFlags) HasAny(ofTheseFlags OptionFlags) bool { return flags&ofTheseFlags != 0 }

// OptionCodec encodes and decodes the TCP options byte stream (RFC 9293 §3.1):
// a sequence of kind/length/data triples (kind=0 end-of-list, kind=1 single-byte no-op).
type OptionCodec struct {
	Flags OptionFlags
}

// PutOption16 writes a 2-byte-payload option (e.g. MaxSegmentSize) big-endian.
func (op OptionCodec) PutOption16(dst []byte, kind OptionKind, v uint16) (int, error) {
	return op.PutOption(dst, kind, byte(v>>8), byte(v))
}

// PutOption32 writes a 4-byte-payload option big-endian.
func (op OptionCodec) PutOption32(dst []byte, kind OptionKind, v uint32) (int, error) {
	return op.PutOption(dst, kind, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// PutOption writes a kind/length/data option to dst, returning the number of
// bytes written (2+len(data)). OptNop and OptEnd carry no length byte and
// cannot be written through PutOption.
func (op OptionCodec) PutOption(dst []byte, kind OptionKind, data ...byte) (int, error) {
	putSize := 2 + len(data)
	switch {
	case len(dst) < putSize:
		return -1, oxtcp.ErrShortBuffer
	case putSize > 255:
		return -1, oxtcp.ErrInvalidLengthField
	case kind == OptNop || kind == OptEnd:
		return -1, oxtcp.ErrInvalidField
	}
	dst[0] = byte(kind)
	dst[1] = byte(putSize)
	copy(dst[2:], data)
	return putSize, nil
}

// ForEachOption walks opts, a TCP options byte stream, invoking fn with each
// option's kind and data slice (excluding the kind/length bytes themselves).
// Walking stops at the first OptEnd byte, the end of opts, or the first error
// returned by fn or encountered decoding a malformed option.
func (op OptionCodec) ForEachOption(opts []byte, fn func(OptionKind, []byte) error) error {
	skipSizeValidation := op.Flags.HasAny(OptFlagSkipSizeValidation)
	skipObsolete := op.Flags.HasAny(OptFlagSkipObsolete)
	for off := 0; off < len(opts) && opts[off] != byte(OptEnd); {
		kind := OptionKind(opts[off])
		off++
		if kind == OptNop {
			continue
		}
		header, err := op.readOptionHeader(opts, off, kind, skipSizeValidation)
		if err != nil {
			return err
		}
		dataLen := header - 2
		off++ // past the length byte.
		if !(skipObsolete && kind.IsObsolete()) {
			if err := fn(kind, opts[off:off+dataLen]); err != nil {
				return err
			}
		}
		off += dataLen
	}
	return nil
}

// readOptionHeader validates and returns the total option size (including
// the kind and length bytes) for the option kind found at opts[off-1],
// whose length byte sits at opts[off].
func (op OptionCodec) readOptionHeader(opts []byte, off int, kind OptionKind, skipSizeValidation bool) (size int, err error) {
	if len(opts[off:]) < 1 {
		return 0, oxtcp.ErrShortBuffer
	}
	size = int(opts[off])
	dataLen := size - 2
	if dataLen < 0 || len(opts[off+1:]) < dataLen {
		return 0, oxtcp.ErrShortBuffer
	}
	if !skipSizeValidation {
		if want := fixedOptionSize(kind); want != -1 && size != want {
			return 0, oxtcp.ErrInvalidLengthField
		}
	}
	return size, nil
}
