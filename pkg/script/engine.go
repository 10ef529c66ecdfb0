// Package script hosts preprocessed pages: it compiles each page at most once
// per compile mode, runs it against a per-request environment and reports
// failures in the coordinates of the files authors wrote.
package script

import (
	"fmt"
	"strings"
)

// CompileMode selects how a page is compiled.
type CompileMode int

const (
	// Plain compiles without tracing; faults carry a file-level span.
	Plain CompileMode = iota
	// Instrumented compiles with trace hooks so faults carry statement spans.
	Instrumented
)

func (m CompileMode) String() string {
	if m == Instrumented {
		return "instrumented"
	}
	return "plain"
}

// Program is an engine-specific compiled handle.
type Program any

// Engine is the scripting collaborator. Programs returned by Compile must be
// safe to Execute concurrently with distinct environments.
type Engine interface {
	// Compile returns a program, a *SyntaxError for structured compiler
	// failures, or any other error for unexpected failures. Diagnostic spans
	// are in generated-source coordinates.
	Compile(src, filename string, mode CompileMode) (Program, error)
	// Execute runs prog in a fresh scope built from env. Runtime failures are
	// reported as *ExecError.
	Execute(prog Program, env *Environment) error
}

// SyntaxError carries the structured diagnostics of a failed compilation.
type SyntaxError struct {
	Diagnostics []SyntaxDiagnostic
}

func (e *SyntaxError) Error() string {
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = fmt.Sprintf("%s:%d:%d: %s", d.File, d.Span.Start.Line, d.Span.Start.Column, d.Message)
	}
	return "syntax error: " + strings.Join(msgs, "; ")
}

// ExecError is a runtime failure raised while a program executes.
type ExecError struct {
	Code        int
	Description string
	Kind        FaultKind
	Err         error
}

func (e *ExecError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("runtime error %d: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("runtime error %d", e.Code)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Logger receives failures that are reported to callers as values but still
// deserve an operator's attention.
type Logger interface {
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
