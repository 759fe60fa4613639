// Package errs defines the error kinds shared by the capture pipeline.
//
// Every error returned by the conversion, planning and writing packages wraps
// exactly one of the kind sentinels, so callers can branch with errors.Is:
//
//	if errors.Is(err, errs.ErrConfiguration) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Kind sentinels.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrConversion    = errors.New("conversion error")
	ErrIO            = errors.New("io error")
	ErrFormat        = errors.New("format error")
)

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Configf returns a ConfigurationError for op.
func Configf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Conversionf returns a ConversionError for op.
func Conversionf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrConversion, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Formatf returns a FormatError for op.
func Formatf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrFormat, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IO wraps a filesystem failure. A nil err returns nil.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == ErrIO {
		return err
	}
	return &Error{Kind: ErrIO, Op: op, Err: err}
}

// KindOf returns the kind sentinel wrapped by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrConfiguration, ErrConversion, ErrIO, ErrFormat} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
