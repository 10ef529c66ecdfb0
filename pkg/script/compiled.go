package script

import (
	"errors"
	"fmt"

	"github.com/sambeau/sorrel/pkg/errcat"
	"github.com/sambeau/sorrel/pkg/page"
	"github.com/sambeau/sorrel/pkg/source"
)

// SyntaxDiagnostic is a compile-time problem at a source location.
type SyntaxDiagnostic struct {
	Code    int
	Message string
	File    string
	Span    source.Span
}

// CompiledUnit is the memoized result of compiling a page in one mode:
// Success, CompileFailure or InternalFailure.
type CompiledUnit interface {
	isCompiledUnit()
}

// Success holds an executable program and the engine that runs it.
type Success struct {
	Program Program
	Engine  Engine
}

// CompileFailure holds compiler diagnostics in original-file coordinates.
type CompileFailure struct {
	Diagnostics []SyntaxDiagnostic
}

// InternalFailure holds an unexpected error raised by the engine.
type InternalFailure struct {
	Cause error
}

func (Success) isCompiledUnit()         {}
func (CompileFailure) isCompiledUnit()  {}
func (InternalFailure) isCompiledUnit() {}

// compileCache holds at most one CompiledUnit per mode.
type compileCache struct {
	engine Engine
	log    Logger
	slots  [2]lazy[CompiledUnit]
}

// compile returns the cached unit for mode, compiling pg the first time.
// Failures are cached like successes and never retried.
func (c *compileCache) compile(pg *page.Page, mode CompileMode) CompiledUnit {
	return c.slots[mode].get(func() CompiledUnit {
		return c.build(pg, mode)
	})
}

func (c *compileCache) compiled(mode CompileMode) bool {
	_, ok := c.slots[mode].peek()
	return ok
}

func (c *compileCache) build(pg *page.Page, mode CompileMode) (cu CompiledUnit) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("engine panicked while compiling %s: %v", pg.Entry, r)
			c.log.Errorf("%v", err)
			cu = InternalFailure{Cause: err}
		}
	}()

	prog, err := c.engine.Compile(pg.Source, pg.Entry, mode)
	if err == nil {
		return Success{Program: prog, Engine: c.engine}
	}

	var synErr *SyntaxError
	if errors.As(err, &synErr) && len(synErr.Diagnostics) > 0 {
		diags := make([]SyntaxDiagnostic, len(synErr.Diagnostics))
		for i, d := range synErr.Diagnostics {
			loc := resolve(pg, d.Span.Start)
			d.File = loc.File
			d.Span = loc.Span
			if d.Message == "" {
				d.Message = errcat.MessageFor(d.Code)
			}
			diags[i] = d
		}
		return CompileFailure{Diagnostics: diags}
	}

	c.log.Errorf("compiling %s (%s): %v", pg.Entry, mode, err)
	return InternalFailure{Cause: err}
}

// resolve maps a generated position to the original file. Positions past the
// end of the source (or on unmapped lines) fall back to the nearest statement
// above them, and finally to the entry file with no span.
func resolve(pg *page.Page, p source.Position) source.Location {
	last := pg.Map.LastLine()
	if p.Line <= 0 || p.Line > last {
		p = source.Position{Line: last}
	}
	if loc, ok := pg.Map.ResolvePosition(p); ok {
		return loc
	}
	for line := p.Line - 1; line > 0; line-- {
		if loc, ok := pg.Map.ResolveLine(line); ok {
			return loc
		}
	}
	return source.Location{File: pg.Entry}
}
