package core

import (
	"errors"
	"fmt"
)

// ErrorKind separates failures by how the pipeline reacts to them.
type ErrorKind int

const (
	// KindTransport covers timeouts and connection failures. Retried, then terminal for the attempt.
	KindTransport ErrorKind = iota
	// KindContent covers too short, paywalled or mismatched pages.
	KindContent
	// KindCapability covers an unavailable model or speech service. The optional output is skipped.
	KindCapability
	// KindFatal aborts the run.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindContent:
		return "content"
	case KindCapability:
		return "capability"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// StageError tags an error with the stage it came from and its kind.
type StageError struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Fatal wraps err as a fatal error for stage.
func Fatal(stage string, err error) error {
	return &StageError{Stage: stage, Kind: KindFatal, Err: err}
}

// Capability wraps err as an upstream capability failure for stage.
func Capability(stage string, err error) error {
	return &StageError{Stage: stage, Kind: KindCapability, Err: err}
}

// IsFatal reports whether any error in err's chain is a fatal StageError.
func IsFatal(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Kind == KindFatal
}

// ErrNoItems is returned by ingest when no feed produced a single item.
var ErrNoItems = errors.New("no feed items ingested")

// ErrNotFound is returned by stores when a keyed lookup misses.
var ErrNotFound = errors.New("not found")
