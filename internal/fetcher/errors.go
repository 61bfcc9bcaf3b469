package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure. The run loop branches on the kind to
// decide logging, while still treating every kind as local to one input.
type Kind string

const (
	// KindInvalidRange means since was after until; rejected before any I/O.
	KindInvalidRange Kind = "invalid_range"
	// KindNetwork covers transport failures, non-success status codes, and
	// any failure while following a continuation chain.
	KindNetwork Kind = "network_error"
	// KindBadArguments means the source reported a request-level error.
	KindBadArguments Kind = "bad_arguments"
	// KindUnknown means the response was missing expected fields.
	KindUnknown Kind = "unknown"
)

// Error is a classified fetch failure for a single input.
type Error struct {
	Kind  Kind
	Input string
	Err   error
}

func (e *Error) Error() string {
	input := e.Input
	if input == "" {
		input = "<all>"
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", input, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", input, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain, defaulting to
// KindUnknown for errors that did not originate in this package.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func newError(kind Kind, input string, err error) *Error {
	return &Error{Kind: kind, Input: input, Err: err}
}
