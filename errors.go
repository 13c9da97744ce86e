package vstream

import (
	"errors"
	"fmt"
	"io"
)

// Error kinds. Every error returned by a public entry point is a
// *SerializerError whose Kind is one of these, so callers can test with
// errors.Is(err, vstream.ErrMalformed).
var (
	// ErrMalformed indicates a wrong tag byte, a truncated payload, an invalid
	// cache index or a structurally impossible value.
	ErrMalformed = errors.New("malformed stream")

	// ErrVersion indicates a protocol or object version newer than supported.
	ErrVersion = errors.New("unsupported version")

	// ErrRecursion indicates nesting beyond the configured depth ceiling.
	ErrRecursion = errors.New("recursion limit exceeded")

	// ErrTypeResolution indicates a type that could not be located or that
	// failed a required capability check.
	ErrTypeResolution = errors.New("type resolution failed")

	// ErrConfig indicates an invalid configuration, an illegal cache
	// transition or an argument outside its declared bounds.
	ErrConfig = errors.New("invalid configuration")

	// ErrIO indicates a failure of the underlying sink or source, including
	// cancellation.
	ErrIO = errors.New("i/o failure")
)

// errUncacheable aborts fingerprinting of a value that embeds a stream
var errUncacheable = errors.New("value embeds a stream")

// SerializerError is the single error type surfaced by the codec.
type SerializerError struct {
	Kind error  // one of the Err* kinds above
	Op   string // public operation, e.g. "encode"
	Err  error  // underlying cause
}

func (e *SerializerError) Error() string {
	msg := "vstream: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	msg += e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *SerializerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, format string, args ...any) *SerializerError {
	return &SerializerError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func malformedf(format string, args ...any) error {
	return newError(ErrMalformed, format, args...)
}

func versionf(format string, args ...any) error {
	return newError(ErrVersion, format, args...)
}

func recursionf(format string, args ...any) error {
	return newError(ErrRecursion, format, args...)
}

func resolvef(format string, args ...any) error {
	return newError(ErrTypeResolution, format, args...)
}

func configf(format string, args ...any) error {
	return newError(ErrConfig, format, args...)
}

// wrapError converts err into a *SerializerError for op. Typed errors pass
// through, anything else is wrapped exactly once.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if se, ok := err.(*SerializerError); ok {
		if se.Op == "" {
			se.Op = op
		}
		return se
	}

	var inner *SerializerError
	if errors.As(err, &inner) {
		return &SerializerError{Kind: inner.Kind, Op: op, Err: err}
	}

	kind := ErrIO
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		kind = ErrMalformed
	}
	return &SerializerError{Kind: kind, Op: op, Err: err}
}

// recoverError turns a panic raised below a public entry point (reflection
// misuse, a faulty Serializable) into a wrapped error.
func recoverError(op string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(error); ok {
		*err = &SerializerError{Kind: ErrMalformed, Op: op, Err: fmt.Errorf("panic: %w", e)}
		return
	}
	*err = &SerializerError{Kind: ErrMalformed, Op: op, Err: fmt.Errorf("panic: %v", r)}
}

// Errorf builds an error of the given kind, for Codec and Serializable
// implementations that need to report e.g. ErrMalformed input.
func Errorf(kind error, format string, args ...any) error {
	return newError(kind, format, args...)
}
