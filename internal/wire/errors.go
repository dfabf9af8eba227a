package wire

import (
	"errors"
	"fmt"
)

// ProtocolError marks a malformed frame, an opcode the reader did not expect
// in this direction, or a frame that left trailing bytes once its fields
// were fully consumed. The session engine treats every ProtocolError as a
// transport failure: the current connection is discarded and reconnection
// proceeds through backoff.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "eshet: protocol error: " + e.Reason + ": " + e.Err.Error()
	}
	return "eshet: protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protoErrf(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

func protoErr(reason string, err error) error {
	return &ProtocolError{Reason: reason, Err: err}
}

// IsProtocolError reports whether err is (or wraps) a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

var (
	// ErrShortFrame is returned by the cursor-based decoder when a read
	// would consume bytes past the frame boundary.
	ErrShortFrame = errors.New("eshet: short frame")

	// ErrTrailingBytes is returned when a frame body has bytes left over
	// after every expected field has been decoded.
	ErrTrailingBytes = errors.New("eshet: trailing bytes in frame")

	// ErrBadMagic is returned when a frame's leading byte is not 0x47.
	ErrBadMagic = errors.New("eshet: bad frame magic")

	// ErrPathHasNUL is a programming error: paths are NUL-terminated on
	// the wire, so a path value may never itself contain a NUL byte.
	ErrPathHasNUL = errors.New("eshet: path contains embedded NUL")
)
