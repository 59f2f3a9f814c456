// Package errors classifies the failures of the clone pipeline into the
// kinds callers branch on, and re-exports the wrapping helpers of
// github.com/pkg/errors so packages need a single errors import.
package errors

import (
	"context"
	stderrors "errors"

	pkgerrors "github.com/pkg/errors"
)

// Kind is a sentinel identifying a class of failure. Match it with Is.
type Kind struct {
	name string
}

func (k *Kind) Error() string {
	return k.name
}

var (
	// ErrTransport reports connection, URL and HTTP status failures.
	ErrTransport = &Kind{name: "transport error"}

	// ErrProtocol reports a malformed discovery or negotiation exchange.
	ErrProtocol = &Kind{name: "protocol error"}

	// ErrCorruptObject reports hash mismatches, unresolvable deltas and
	// undecodable pack data.
	ErrCorruptObject = &Kind{name: "corrupt object"}

	// ErrCheckout reports worktree write failures and path conflicts.
	ErrCheckout = &Kind{name: "checkout error"}

	// ErrReference reports missing, malformed or ambiguous references.
	ErrReference = &Kind{name: "reference error"}

	// ErrCancelled reports that the caller's context was cancelled.
	ErrCancelled = &Kind{name: "cancelled"}
)

// Error tags an underlying error with a Kind.
type Error struct {
	Kind *Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.name + ": " + e.Err.Error()
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the tagged kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Kind)
	return ok && k == e.Kind
}

// E tags err with kind. A nil err stays nil.
func E(kind *Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a new error of the given kind.
func Errorf(kind *Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: pkgerrors.Errorf(format, args...)}
}

// New returns a plain error with a stack trace.
func New(msg string) error {
	return pkgerrors.New(msg)
}

// Wrap annotates err with a message. A nil err stays nil.
func Wrap(err error, msg string) error {
	return pkgerrors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message. A nil err stays nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// KindOf returns the outermost kind tagged on err, or nil.
func KindOf(err error) *Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// FromContext returns an ErrCancelled error when ctx is done, nil otherwise.
// The result still matches context.Canceled or context.DeadlineExceeded.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return E(ErrCancelled, err)
	}
	return nil
}
