// Package pdferr defines the error kinds reported by merge, recompress and
// inspect operations.
package pdferr

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfpress/ir/raw"
)

// Kind classifies a failure.
type Kind int

const (
	KindIO Kind = iota + 1
	KindParse
	KindInvalidScale
	KindNoInputFiles
	KindObjectNotFound
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io error"
	case KindParse:
		return "parse error"
	case KindInvalidScale:
		return "invalid scale"
	case KindNoInputFiles:
		return "no input files"
	case KindObjectNotFound:
		return "object not found"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is; an *Error matches the sentinel of its Kind.
var (
	ErrIO             = errors.New("io error")
	ErrParse          = errors.New("parse error")
	ErrInvalidScale   = errors.New("invalid scale")
	ErrNoInputFiles   = errors.New("no input files")
	ErrObjectNotFound = errors.New("object not found")
)

// Error carries the kind of failure and the input it concerns.
type Error struct {
	Kind Kind
	Path string         // offending input or output, if any
	Ref  *raw.ObjectRef // offending object, if any
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Ref != nil {
		msg += ": object " + e.Ref.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrIO:
		return e.Kind == KindIO
	case ErrParse:
		return e.Kind == KindParse
	case ErrInvalidScale:
		return e.Kind == KindInvalidScale
	case ErrNoInputFiles:
		return e.Kind == KindNoInputFiles
	case ErrObjectNotFound:
		return e.Kind == KindObjectNotFound
	}
	return false
}

func IO(path string, err error) error {
	return &Error{Kind: KindIO, Path: path, Err: err}
}

func Parse(path string, err error) error {
	return &Error{Kind: KindParse, Path: path, Err: err}
}

func InvalidScale(scale int) error {
	return &Error{Kind: KindInvalidScale, Err: fmt.Errorf("expected 1..10, got %d", scale)}
}

func NoInputFiles() error {
	return &Error{Kind: KindNoInputFiles}
}

func ObjectNotFound(ref raw.ObjectRef) error {
	return &Error{Kind: KindObjectNotFound, Ref: &ref}
}

// WithPath returns err with Path set when err is an *Error without one.
// Other errors are returned unchanged.
func WithPath(err error, path string) error {
	var e *Error
	if errors.As(err, &e) && e.Path == "" {
		cp := *e
		cp.Path = path
		return &cp
	}
	return err
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
