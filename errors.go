package oxtcp

// errGeneric enumerates error conditions shared across the IPv4/TCP codecs.
type errGeneric uint8

// Generic errors common to internet functioning.
const (
	_ errGeneric = iota // non-initialized err
	ErrBug
	ErrPacketDrop
	ErrBadCRC
	ErrZeroSource
	ErrZeroDestination
	ErrShortBuffer
	ErrInvalidField
	ErrInvalidLengthField
)

func (err errGeneric) Error() string {
	return err.String()
}

func (err errGeneric) String() string {
	switch err {
	case ErrBug:
		return "internal bug"
	case ErrPacketDrop:
		return "packet dropped"
	case ErrBadCRC:
		return "incorrect checksum"
	case ErrZeroSource:
		return "zero source (port/addr)"
	case ErrZeroDestination:
		return "zero destination (port/addr)"
	case ErrShortBuffer:
		return "buffer too short"
	case ErrInvalidField:
		return "invalid field value"
	case ErrInvalidLengthField:
		return "invalid length field"
	default:
		return "unknown error"
	}
}
