package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies processing failures.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindDecode
	KindEncode
	KindOutOfMemory
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindOutOfMemory:
		return "out_of_memory"
	default:
		return "unknown"
	}
}

// Error is a classified processing error.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinel validation errors.
var (
	ErrHEICTooLarge      = errors.New("HEIC file exceeds the 50MB decode limit")
	ErrFileTooLarge      = errors.New("file exceeds the maximum size limit")
	ErrBatchTooLarge     = errors.New("total batch size exceeds the maximum limit")
	ErrUnsupportedType   = errors.New("unsupported file format, please upload JPEG, PNG, WebP, AVIF, GIF or HEIC files")
	ErrEmptyCropRect     = errors.New("crop rectangle is empty")
	ErrHEICUnavailable   = errors.New("HEIC support not available, please convert to JPEG/PNG first")
	ErrEmptyEncodeOutput = errors.New("encoder produced no output")
)

// NewValidationError returns a user-correctable validation error.
func NewValidationError(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// WrapValidation classifies err as a validation error.
func WrapValidation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// WrapDecode classifies err as a decode error unless it reads like memory exhaustion.
func WrapDecode(op string, err error) error {
	if looksLikeOOM(err) {
		return newOOM(op, err)
	}
	return &Error{Kind: KindDecode, Op: op, Msg: "failed to decode image", Err: err}
}

// WrapEncode classifies err as an encode error unless it reads like memory exhaustion.
func WrapEncode(op string, err error) error {
	if looksLikeOOM(err) {
		return newOOM(op, err)
	}
	return &Error{Kind: KindEncode, Op: op, Msg: "failed to encode image", Err: err}
}

func newOOM(op string, err error) error {
	return &Error{
		Kind: KindOutOfMemory,
		Op:   op,
		Msg:  "out of memory, try reducing the image size or the corner radius",
		Err:  err,
	}
}

var oomKeywords = []string{"memory", "alloc", "makeslice"}

func looksLikeOOM(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range oomKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// KindOf returns the kind of a classified error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func isKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsDecode reports whether err is a decode error.
func IsDecode(err error) bool { return isKind(err, KindDecode) }

// IsEncode reports whether err is an encode error.
func IsEncode(err error) bool { return isKind(err, KindEncode) }

// IsOutOfMemory reports whether err is an out-of-memory error.
func IsOutOfMemory(err error) bool { return isKind(err, KindOutOfMemory) }

// RecoverError converts a recovered panic value into an error.
func RecoverError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// UserMessage returns a human-readable message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case KindOutOfMemory:
		return "Out of memory: try reducing the image size or the corner radius"
	case KindValidation:
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Msg
	default:
		return e.Error()
	}
}
