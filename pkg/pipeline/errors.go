package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The session layer maps kinds to
// protocol behavior: validation/decode/encode/timeout abort the job,
// transport failures trigger cancellation without a processing error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDecode
	KindDetection
	KindTransform
	KindEncode
	KindTransport
	KindTimeout
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDecode:
		return "decode"
	case KindDetection:
		return "detection"
	case KindTransform:
		return "transform"
	case KindEncode:
		return "encode"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline failure
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error, keeping an already-classified error's
// kind intact
func Wrap(kind Kind, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the classification of err, or KindUnknown
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
