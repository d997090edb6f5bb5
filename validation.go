package oxtcp

import "errors"

// ValidatorFlags controls optional, stricter validation behavior.
type ValidatorFlags uint8

const (
	// ValidateEvilBit makes [Validator] reject packets with the IPv4 "evil bit" set (RFC 3514).
	ValidateEvilBit ValidatorFlags = 1 << iota
	// ValidateMultiError makes [Validator] accumulate every error seen instead of only the first.
	ValidateMultiError
)

// Validator accumulates validation errors across one or more frame checks so that
// callers performing several Validate* calls on nested headers (IPv4 then TCP, say)
// can surface every problem found, or just the first one, with a single error check.
type Validator struct {
	flags ValidatorFlags
	accum []error
}

// NewValidator returns a Validator configured with the given flags.
func NewValidator(flags ValidatorFlags) Validator {
	return Validator{flags: flags}
}

// Flags returns the flags the Validator was configured with.
func (v *Validator) Flags() ValidatorFlags { return v.flags }

// SetFlags replaces the Validator's flags.
func (v *Validator) SetFlags(flags ValidatorFlags) { v.flags = flags }

// Reset discards any accumulated errors so the Validator can be reused.
func (v *Validator) Reset() { v.accum = v.accum[:0] }

// AddError records a validation failure. Subsequent calls are ignored unless
// [ValidateMultiError] is set, so the first failure found is the one retained by default.
func (v *Validator) AddError(err error) {
	if err == nil {
		return
	}
	if len(v.accum) != 0 && v.flags&ValidateMultiError == 0 {
		return
	}
	v.accum = append(v.accum, err)
}

// AddBitPosErr records a validation failure found at the given bit offset/length
// within the header under validation. The position is informational (useful for a
// hex-dump diagnostic); this Validator tracks only the error itself.
func (v *Validator) AddBitPosErr(bitOffset, bitLen int, err error) {
	v.AddError(err)
}

// Err returns the accumulated error, or nil if no error was recorded.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	default:
		return errors.Join(v.accum...)
	}
}

// ErrPop returns the accumulated error and resets the Validator for reuse.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.Reset()
	return err
}
