package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for packet decoding. ErrUnknownStreamType and
// ErrVersionMismatch both satisfy errors.Is(err, ErrMalformedPacket).
var (
	ErrMalformedPacket   = errors.New("protocol: malformed packet")
	ErrUnknownStreamType = fmt.Errorf("%w: unknown stream type", ErrMalformedPacket)
	ErrVersionMismatch   = fmt.Errorf("%w: version mismatch", ErrMalformedPacket)
)

// ParseError records which field was being decoded when a packet turned out
// to be malformed.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
