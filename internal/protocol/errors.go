package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedPayload        = errors.New("truncated payload")
	ErrUnknownOperationType    = errors.New("unknown operation type")
	ErrUnexpectedOperationType = errors.New("unexpected operation type")
	ErrUnsupportedVersion      = errors.New("unsupported protocol version")
	ErrStringTooLong           = errors.New("string exceeds 65535 bytes")
	ErrTooManyEntries          = errors.New("entry count exceeds 65535")
)

// DecodeError is returned for any datagram that cannot be decoded. It is
// fatal to that datagram only.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(field string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Field: field, Err: err}
}

// IsProtocolError reports whether err came from decoding a malformed datagram.
func IsProtocolError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
