// Package asp implements the legacy page objects (Response, Request,
// Session, Application and Server) on top of Go's HTTP types.
package asp

import (
	"errors"
	"fmt"

	"github.com/sambeau/sorrel/pkg/errcat"
)

// ErrResponseEnded stops a script after Response.End or Response.Redirect.
// It is a clean exit, not a fault.
var ErrResponseEnded = errors.New("response ended")

// ErrUnsupported matches every UnsupportedError.
var ErrUnsupported = errors.New("unsupported legacy operation")

// UnsupportedError reports a legacy member that has no equivalent in the
// modern pipeline.
type UnsupportedError struct {
	Object string
	Member string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s.%s is not supported", e.Object, e.Member)
}

// Is reports whether target is ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// ErrorCode returns the runtime code scripts see for this error.
func (e *UnsupportedError) ErrorCode() int {
	return errcat.ActionNotSupported
}

// CodedError is an error carrying a runtime error code.
type CodedError struct {
	Code        int
	Description string
}

func (e *CodedError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return errcat.MessageFor(e.Code)
}

// ErrorCode returns the runtime code.
func (e *CodedError) ErrorCode() int {
	return e.Code
}

func invalidArgument(format string, args ...any) error {
	return &CodedError{Code: errcat.InvalidProcedureCall, Description: fmt.Sprintf(format, args...)}
}
