// ABOUTME: Typed error kinds shared by the adapter, backend client and suggestion pipeline
// ABOUTME: Callers branch on Kind instead of matching error text

package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to react to it.
type Kind int

const (
	Unknown Kind = iota
	// Configuration means a required secret or setting is missing.
	Configuration
	// NotFound means a referenced entity does not exist.
	NotFound
	// InvalidArgument means the caller omitted or malformed an input.
	InvalidArgument
	// InvalidResponse means the model answered with something unusable.
	InvalidResponse
	// Upstream means a remote call failed or returned a malformed payload.
	Upstream
	// ContextLength is an Upstream failure where the input exceeded the model's context window.
	ContextLength
)

var kindNames = map[Kind]string{
	Unknown:         "unknown",
	Configuration:   "configuration",
	NotFound:        "not_found",
	InvalidArgument: "invalid_argument",
	InvalidResponse: "invalid_response",
	Upstream:        "upstream",
	ContextLength:   "context_length",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind along with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind with a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the most specific human-readable text in err: the innermost Msg
// if any *Error in the chain has one, otherwise err.Error().
func Message(err error) string {
	var msg string
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if e, ok := cur.(*Error); ok && e.Msg != "" {
			msg = e.Msg
		}
	}
	if msg != "" {
		return msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
