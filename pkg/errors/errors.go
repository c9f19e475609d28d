// Package errors provides the error constructors used throughout surveyd.
// Errors carry a captured stack so that operator logs can locate the origin
// of a failure without a debugger attached.
package errors

import (
	stderrors "errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// New returns an error with the supplied message and a captured stack.
func New(msg string) error {
	return goerrors.Wrap(stderrors.New(msg), 1)
}

// Errorf formats according to a format specifier and returns an error with a
// captured stack. The %w verb is honored, so wrapped errors remain visible to
// errors.Is and errors.As.
func Errorf(format string, args ...interface{}) error {
	return goerrors.Wrap(fmt.Errorf(format, args...), 1)
}

// Wrap annotates err with a captured stack. Returns nil if err is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, 1)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// StackTrace returns the formatted stack captured by err, or an empty string
// if err carries none.
func StackTrace(err error) string {
	var gerr *goerrors.Error
	if stderrors.As(err, &gerr) {
		return string(gerr.Stack())
	}
	return ""
}
