// Package luaengine runs preprocessed pages on gopher-lua.
//
// Both compile modes share one *lua.FunctionProto per page. A fresh LState is
// created for every execution, so compiled programs are safe to run from many
// goroutines at once.
package luaengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/sambeau/sorrel/pkg/errcat"
	"github.com/sambeau/sorrel/pkg/script"
	"github.com/sambeau/sorrel/pkg/source"
)

// Options configure an Engine.
type Options struct {
	// CallStackSize limits Lua call depth. Zero uses the gopher-lua default.
	CallStackSize int
	// Timeout bounds one execution. Zero means no limit.
	Timeout time.Duration
}

// Engine compiles and executes Lua page programs.
type Engine struct {
	opts Options
}

// New returns an engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

type program struct {
	proto *lua.FunctionProto
	name  string
	mode  script.CompileMode
}

// Compile parses and compiles src. Parse and compile errors are returned as
// *script.SyntaxError in generated-source coordinates.
func (e *Engine) Compile(src, filename string, mode script.CompileMode) (script.Program, error) {
	chunk, err := parse.Parse(strings.NewReader(src), filename)
	if err != nil {
		var pe *parse.Error
		if errors.As(err, &pe) {
			return nil, &script.SyntaxError{Diagnostics: []script.SyntaxDiagnostic{parseDiagnostic(pe)}}
		}
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}
	if chunk == nil {
		return nil, fmt.Errorf("parsing %s: parser returned no chunk", filename)
	}

	proto, err := lua.Compile(chunk, filename)
	if err != nil {
		var ce *lua.CompileError
		if errors.As(err, &ce) {
			return nil, &script.SyntaxError{Diagnostics: []script.SyntaxDiagnostic{{
				Code: errcat.SyntaxError,
				Span: source.Span{Start: source.Position{Line: ce.Line}, End: source.Position{Line: ce.Line}},
			}}}
		}
		return nil, fmt.Errorf("compiling %s: %w", filename, err)
	}
	return &program{proto: proto, name: filename, mode: mode}, nil
}

func parseDiagnostic(pe *parse.Error) script.SyntaxDiagnostic {
	msg := strings.ToLower(pe.Message)
	code := errcat.SyntaxError
	switch {
	case strings.Contains(msg, "unterminated") && strings.Contains(msg, "comment"):
		code = errcat.UnterminatedComment
	case strings.Contains(msg, "unterminated"):
		code = errcat.UnterminatedString
	case pe.Pos.Line == parse.EOF || pe.Token == "":
		code = errcat.ExpectedEnd
	}

	var p source.Position
	if pe.Pos.Line != parse.EOF {
		// the scanner counts columns from zero
		p = source.Position{Line: pe.Pos.Line, Column: pe.Pos.Column + 1}
	} else {
		p = source.Position{Line: -1}
	}
	return script.SyntaxDiagnostic{Code: code, Span: source.Span{Start: p, End: p}}
}

// Execute runs prog with the values bound in env as Lua globals.
func (e *Engine) Execute(p script.Program, env *script.Environment) error {
	prog, ok := p.(*program)
	if !ok {
		return fmt.Errorf("luaengine: cannot execute %T", p)
	}

	L := e.newState()
	defer L.Close()
	if e.opts.Timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
		defer cancel()
		L.SetContext(ctx)
	}

	rt := &runtime{L: L, prog: prog}
	if prog.mode == script.Instrumented {
		rt.trace = env.Trace()
	}
	rt.openBuiltins()
	if err := rt.bind(env); err != nil {
		return &script.ExecError{Code: errcat.InternalError, Description: err.Error(), Err: err}
	}

	L.Push(L.NewFunctionFromProto(prog.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return rt.convert(err)
	}
	return nil
}

// newState returns an LState with only the side-effect free standard
// libraries.
func (e *Engine) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true, CallStackSize: e.opts.CallStackSize})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
