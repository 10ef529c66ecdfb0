package script

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/sambeau/sorrel/pkg/errcat"
	"github.com/sambeau/sorrel/pkg/page"
	"github.com/sambeau/sorrel/pkg/source"
)

// FaultKind classifies a RuntimeFault.
type FaultKind int

const (
	KindRuntime FaultKind = iota
	KindSyntax
	KindIncludeNotFound
	KindInternalCompile
	KindUnsupported
)

func (k FaultKind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindIncludeNotFound:
		return "include"
	case KindInternalCompile:
		return "internal"
	case KindUnsupported:
		return "unsupported"
	default:
		return "runtime"
	}
}

// RuntimeFault is a failure reported to the caller of Run.
type RuntimeFault struct {
	Kind    FaultKind
	Code    int
	Message string
	File    string
	Span    source.Span
	Detail  string // raw engine text, for logs
}

// Options configure the units of a registry.
type Options struct {
	Engine  Engine
	Emitter page.Emitter
	Loader  source.Loader
	Root    string
	Logger  Logger
}

// UnitState reports which lazy steps of a unit have completed.
type UnitState struct {
	Preprocessed         bool
	CompiledPlain        bool
	CompiledInstrumented bool
}

type prepared struct {
	page *page.Page
	diag *SyntaxDiagnostic
}

// Unit owns one entry file, its includes and their compiled forms. A unit is
// shared by every request for the same file.
type Unit struct {
	path  string
	opts  Options
	log   Logger
	prep  lazy[prepared]
	cache compileCache
}

// NewUnit returns an uninitialized unit for the entry file at path.
func NewUnit(path string, opts Options) *Unit {
	log := opts.Logger
	if log == nil {
		log = nopLogger{}
	}
	return &Unit{
		path:  path,
		opts:  opts,
		log:   log,
		cache: compileCache{engine: opts.Engine, log: log},
	}
}

// Path returns the entry file path.
func (u *Unit) Path() string { return u.path }

// State reports progress through Uninitialized, Preprocessed and the two
// independent compiled states.
func (u *Unit) State() UnitState {
	_, pre := u.prep.peek()
	return UnitState{
		Preprocessed:         pre,
		CompiledPlain:        u.cache.compiled(Plain),
		CompiledInstrumented: u.cache.compiled(Instrumented),
	}
}

// Page preprocesses the entry file on first use. It returns a diagnostic
// instead of a page when an include (or the entry itself) cannot be read.
func (u *Unit) Page() (*page.Page, *SyntaxDiagnostic) {
	p := u.prep.get(u.preprocess)
	return p.page, p.diag
}

func (u *Unit) preprocess() prepared {
	entry, err := u.opts.Loader.Load(u.path)
	if err != nil {
		code := errcat.InternalError
		if errors.Is(err, fs.ErrNotExist) {
			code = errcat.FileNotFound
		}
		return prepared{diag: &SyntaxDiagnostic{Code: code, Message: errcat.MessageFor(code), File: u.path}}
	}

	pp := &page.Preprocessor{Root: u.opts.Root, Loader: u.opts.Loader, Emitter: u.opts.Emitter}
	pg, err := pp.Preprocess(entry)
	if err != nil {
		var incErr *page.IncludeError
		if !errors.As(err, &incErr) {
			u.log.Errorf("preprocessing %s: %v", u.path, err)
			return prepared{diag: &SyntaxDiagnostic{Code: errcat.InternalError, Message: errcat.MessageFor(errcat.InternalError), File: u.path}}
		}
		code := errcat.IncludeNotFound
		if incErr.Cycle {
			code = errcat.IncludeCycle
		}
		return prepared{diag: &SyntaxDiagnostic{
			Code:    code,
			Message: fmt.Sprintf("%s: %s", errcat.MessageFor(code), incErr.Target),
			File:    incErr.File,
			Span:    incErr.Span,
		}}
	}
	return prepared{page: pg}
}

// Compile preprocesses and compiles the unit for mode if that has not
// happened yet, and returns the cached result. Preprocessing failures are
// returned as a CompileFailure.
func (u *Unit) Compile(mode CompileMode) CompiledUnit {
	pg, diag := u.Page()
	if diag != nil {
		return CompileFailure{Diagnostics: []SyntaxDiagnostic{*diag}}
	}
	return u.cache.compile(pg, mode)
}

// Run executes the unit against env. executed is false when the unit could
// not be preprocessed or compiled; faults then holds that single diagnostic.
// Output produced before a runtime fault is kept.
func (u *Unit) Run(env *Environment, instrumented bool) (executed bool, faults []RuntimeFault) {
	mode := Plain
	if instrumented {
		mode = Instrumented
	}

	pg, diag := u.Page()
	if diag != nil {
		kind := KindIncludeNotFound
		if diag.Code != errcat.IncludeNotFound && diag.Code != errcat.IncludeCycle {
			kind = KindRuntime
		}
		return false, []RuntimeFault{faultFromDiagnostic(kind, *diag)}
	}

	switch cu := u.cache.compile(pg, mode).(type) {
	case CompileFailure:
		return false, []RuntimeFault{faultFromDiagnostic(KindSyntax, cu.Diagnostics[0])}
	case InternalFailure:
		return false, []RuntimeFault{{
			Kind:    KindInternalCompile,
			Code:    errcat.InternalCompileFailure,
			Message: errcat.MessageFor(errcat.InternalCompileFailure),
			File:    pg.Entry,
			Detail:  cu.Cause.Error(),
		}}
	case Success:
		if env == nil {
			env = NewEnvironment()
		}
		scope := env.clone()
		scope.set(LiteralsName, pg.Literals)
		scope.trace = nil
		if instrumented {
			scope.trace = &TraceCollector{}
		}
		if err := u.execute(cu, scope); err != nil {
			return true, []RuntimeFault{u.fault(pg, err, scope.trace)}
		}
		return true, nil
	default:
		panic(fmt.Sprintf("script: unexpected compiled unit %T", cu))
	}
}

func (u *Unit) execute(cu Success, scope *Environment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecError{Code: errcat.InternalError, Description: fmt.Sprint(r)}
		}
	}()
	return cu.Engine.Execute(cu.Program, scope)
}

func (u *Unit) fault(pg *page.Page, err error, trace *TraceCollector) RuntimeFault {
	f := RuntimeFault{
		Kind:   KindRuntime,
		Code:   errcat.InternalError,
		File:   pg.Entry,
		Detail: err.Error(),
	}
	var ee *ExecError
	if errors.As(err, &ee) {
		f.Code = ee.Code
		f.Kind = ee.Kind
	}
	f.Message = errcat.MessageFor(f.Code)
	if ee != nil && ee.Description != "" && !errcat.Known(f.Code) {
		f.Message = ee.Description
	}

	if trace != nil {
		if pos, ok := trace.Last(); ok {
			loc := resolve(pg, pos)
			f.File, f.Span = loc.File, loc.Span
		}
	}

	if f.Kind == KindUnsupported {
		u.log.Warnf("unsupported legacy operation in %s: %v", u.path, err)
	}
	return f
}

func faultFromDiagnostic(kind FaultKind, d SyntaxDiagnostic) RuntimeFault {
	return RuntimeFault{
		Kind:    kind,
		Code:    d.Code,
		Message: d.Message,
		File:    d.File,
		Span:    d.Span,
	}
}

// Files returns the entry and include paths once the unit is preprocessed.
func (u *Unit) Files() []string {
	p, ok := u.prep.peek()
	if !ok || p.page == nil {
		return nil
	}
	return p.page.Files
}
