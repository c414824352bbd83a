package gauntlet

import (
	"errors"
	"fmt"

	"github.com/zero-day-ai/gauntlet/config"
	"github.com/zero-day-ai/gauntlet/hypothesis"
	"github.com/zero-day-ai/gauntlet/memory"
	"github.com/zero-day-ai/gauntlet/oracle"
	"github.com/zero-day-ai/gauntlet/session"
)

// Error kinds categorize failures surfaced by Gauntlet.
const (
	// KindPrecondition marks misuse, such as calling Evaluate without an
	// open session or starting a second one.
	KindPrecondition = "precondition"

	// KindStorage marks memory store failures.
	KindStorage = "storage"

	// KindOracle marks decision oracle failures.
	KindOracle = "oracle"

	// KindConfiguration marks invalid configuration.
	KindConfiguration = "configuration"

	// KindValidation marks invalid records or oracle output.
	KindValidation = "validation"

	// KindInternal is everything else.
	KindInternal = "internal"
)

// Error wraps a failure with the operation that produced it and its kind.
// errors.Is matches both the wrapped sentinel and an *Error with the same
// Kind (and Op, when the target sets one).
type Error struct {
	Op   string
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gauntlet: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("gauntlet: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok && t.Kind != "" && t.Kind == e.Kind {
		return t.Op == "" || t.Op == e.Op
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// wrap returns nil for nil, and otherwise an *Error whose kind is derived
// from the sentinel errors in err's chain.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) string {
	switch {
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrSessionClosed):
		return KindPrecondition
	case errors.Is(err, oracle.ErrTransport):
		return KindOracle
	case errors.Is(err, memory.ErrInvalidRecord),
		errors.Is(err, hypothesis.ErrEmptyCandidate):
		return KindValidation
	case errors.Is(err, memory.ErrStorageFailed),
		errors.Is(err, memory.ErrClosed),
		errors.Is(err, memory.ErrDuplicate),
		errors.Is(err, memory.ErrNotFound):
		return KindStorage
	case errors.Is(err, config.ErrInvalidConfig):
		return KindConfiguration
	}
	return KindInternal
}
