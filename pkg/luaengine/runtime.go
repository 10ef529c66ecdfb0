package luaengine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/sambeau/sorrel/pkg/asp"
	"github.com/sambeau/sorrel/pkg/errcat"
	"github.com/sambeau/sorrel/pkg/script"
	"github.com/sambeau/sorrel/pkg/source"
)

// runtime is the per-execution state shared by the Go functions exposed to
// a script.
type runtime struct {
	L     *lua.LState
	prog  *program
	trace *script.TraceCollector // nil unless instrumented
}

// raised travels through a Lua error as userdata and carries a coded fault.
type raised struct {
	code        int
	description string
	kind        script.FaultKind
	err         error
}

// ended signals Response.End or Response.Redirect.
type ended struct{}

// fail raises err as a script error. It does not return.
func (rt *runtime) fail(err error) {
	ud := rt.L.NewUserData()
	if errors.Is(err, asp.ErrResponseEnded) {
		ud.Value = ended{}
		rt.L.Error(ud, 0)
		return
	}

	r := &raised{code: errcat.InvalidProcedureCall, description: err.Error(), err: err}
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		r.code = coded.ErrorCode()
	}
	if errors.Is(err, asp.ErrUnsupported) {
		r.kind = script.KindUnsupported
	}
	rt.record(rt.L.Where(1))
	ud.Value = r
	rt.L.Error(ud, 0)
}

// raise raises a catalog error with the given code.
func (rt *runtime) raise(code int, description string) {
	rt.fail(&asp.CodedError{Code: code, Description: description})
}

// record stores the generated line named by a "chunk:line:" prefix.
func (rt *runtime) record(where string) {
	if rt.trace == nil {
		return
	}
	if line, ok := whereLine(where); ok {
		rt.trace.Record(source.Position{Line: line})
	}
}

func whereLine(where string) (int, bool) {
	where = strings.TrimSuffix(where, ":")
	i := strings.LastIndexByte(where, ':')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(where[i+1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// convert turns a PCall error into a *script.ExecError, or nil when the
// script ended the response.
func (rt *runtime) convert(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &script.ExecError{Code: errcat.InternalError, Description: err.Error(), Err: err}
	}
	if ud, ok := apiErr.Object.(*lua.LUserData); ok {
		switch v := ud.Value.(type) {
		case ended:
			return nil
		case *raised:
			return &script.ExecError{Code: v.code, Description: v.description, Kind: v.kind, Err: v.err}
		}
	}

	msg := apiErr.Error()
	if apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	if apiErr.Type == lua.ApiErrorPanic {
		return &script.ExecError{Code: errcat.InternalError, Description: msg, Err: err}
	}

	text := msg
	if rest, ok := strings.CutPrefix(msg, rt.prog.name+":"); ok {
		if i := strings.IndexByte(rest, ':'); i > 0 {
			if line, err := strconv.Atoi(rest[:i]); err == nil {
				if rt.trace != nil {
					rt.trace.Record(source.Position{Line: line})
				}
				text = strings.TrimSpace(rest[i+1:])
			}
		}
	}
	return &script.ExecError{Code: classify(text), Description: text, Err: err}
}

// classify assigns a runtime code to an uncoded VM error message.
func classify(msg string) int {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "stack overflow"):
		return errcat.OutOfStackSpace
	case strings.Contains(m, "attempt to call"):
		return errcat.NoSuchMember
	case strings.Contains(m, "attempt to index"):
		return errcat.ObjectRequired
	case strings.Contains(m, "cannot perform"),
		strings.Contains(m, "arithmetic"),
		strings.Contains(m, "attempt to compare"),
		strings.Contains(m, "concat"):
		return errcat.TypeMismatch
	default:
		return errcat.InvalidProcedureCall
	}
}

// bind exposes every value in env as a Lua global.
func (rt *runtime) bind(env *script.Environment) error {
	for _, name := range env.Names() {
		v, _ := env.Lookup(name)
		lv, err := rt.value(v)
		if err != nil {
			return fmt.Errorf("binding %s: %w", name, err)
		}
		rt.L.SetGlobal(name, lv)
	}
	return nil
}

func (rt *runtime) value(v any) (lua.LValue, error) {
	switch v := v.(type) {
	case nil:
		return lua.LNil, nil
	case lua.LValue:
		return v, nil
	case string:
		return lua.LString(v), nil
	case bool:
		return lua.LBool(v), nil
	case int:
		return lua.LNumber(v), nil
	case int64:
		return lua.LNumber(v), nil
	case float64:
		return lua.LNumber(v), nil
	case []string:
		t := rt.L.CreateTable(len(v), 0)
		for _, s := range v {
			t.Append(lua.LString(s))
		}
		return t, nil
	case *asp.Response:
		return rt.response(v), nil
	case *asp.Request:
		return rt.request(v), nil
	case *asp.Session:
		return rt.session(v), nil
	case *asp.ApplicationHandle:
		return rt.application(v), nil
	case *asp.ServerUtil:
		return rt.server(v), nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

// object builds a table of Go functions callable with either '.' or ':'.
type object struct {
	rt  *runtime
	tbl *lua.LTable
}

func (rt *runtime) object() *object {
	return &object{rt: rt, tbl: rt.L.NewTable()}
}

// args are the script arguments of one call, without the receiver.
type args struct {
	L    *lua.LState
	base int
}

func (a args) len() int             { return a.L.GetTop() - a.base + 1 }
func (a args) get(i int) lua.LValue { return a.L.Get(a.base + i) }
func (a args) str(i int) string     { return text(a.get(i)) }
func (a args) truthy(i int) bool    { return lua.LVAsBool(a.get(i)) }

func (a args) ret(v lua.LValue) int {
	a.L.Push(v)
	return 1
}

func (a args) retStr(s string) int  { return a.ret(lua.LString(s)) }
func (a args) retBool(b bool) int   { return a.ret(lua.LBool(b)) }
func (a args) retNum(n float64) int { return a.ret(lua.LNumber(n)) }

func (o *object) fn(name string, f func(a args) int) {
	self := lua.LValue(o.tbl)
	o.tbl.RawSetString(name, o.rt.L.NewFunction(func(L *lua.LState) int {
		base := 1
		if L.GetTop() >= 1 && L.Get(1) == self {
			base = 2
		}
		return f(args{L: L, base: base})
	}))
}

// check raises err if it is not nil.
func (rt *runtime) check(err error) {
	if err != nil {
		rt.fail(err)
	}
}

func (rt *runtime) response(r *asp.Response) *lua.LTable {
	o := rt.object()
	o.fn("Write", func(a args) int {
		rt.check(r.Write(a.str(0)))
		return 0
	})
	o.fn("Redirect", func(a args) int {
		rt.check(r.Redirect(a.str(0), a.truthy(1)))
		return 0
	})
	o.fn("AddHeader", func(a args) int {
		rt.check(r.AddHeader(a.str(0), a.str(1)))
		return 0
	})
	o.fn("ContentType", func(a args) int { return a.retStr(r.ContentType()) })
	o.fn("SetContentType", func(a args) int {
		r.SetContentType(a.str(0))
		return 0
	})
	o.fn("IsClientConnected", func(a args) int { return a.retBool(r.IsClientConnected()) })
	o.fn("Status", func(a args) int { return a.retNum(float64(r.Status())) })
	o.fn("SetStatus", func(a args) int {
		rt.check(r.SetStatus(rt.integer(a.get(0))))
		return 0
	})
	o.fn("SetCookie", func(a args) int {
		rt.check(r.SetCookie(a.str(0), a.str(1)))
		return 0
	})
	o.fn("Clear", func(a args) int {
		r.Clear()
		return 0
	})
	o.fn("End", func(a args) int {
		rt.check(r.End())
		return 0
	})
	for _, member := range asp.UnsupportedResponseMembers {
		o.fn(member, func(a args) int {
			rt.fail(r.Unsupported(member))
			return 0
		})
	}
	return o.tbl
}

func (rt *runtime) request(q *asp.Request) *lua.LTable {
	o := rt.object()
	o.fn("QueryString", func(a args) int { return a.retStr(q.QueryString(a.str(0))) })
	o.fn("Form", func(a args) int { return a.retStr(q.Form(a.str(0))) })
	o.fn("Cookies", func(a args) int { return a.retStr(q.Cookies(a.str(0))) })
	o.fn("ServerVariables", func(a args) int { return a.retStr(q.ServerVariables(a.str(0))) })
	o.fn("Method", func(a args) int { return a.retStr(q.Method()) })
	o.fn("Path", func(a args) int { return a.retStr(q.Path()) })
	return o.tbl
}

func (rt *runtime) session(s *asp.Session) *lua.LTable {
	o := rt.object()
	o.fn("Get", func(a args) int { return a.retStr(s.Get(a.str(0))) })
	o.fn("Set", func(a args) int {
		s.Set(a.str(0), a.str(1))
		return 0
	})
	o.fn("Remove", func(a args) int {
		s.Remove(a.str(0))
		return 0
	})
	o.fn("Abandon", func(a args) int {
		s.Abandon()
		return 0
	})
	o.fn("SessionID", func(a args) int { return a.retStr(s.SessionID()) })
	o.fn("Timeout", func(a args) int { return a.retNum(float64(s.Timeout())) })
	o.fn("SetTimeout", func(a args) int {
		rt.check(s.SetTimeout(rt.integer(a.get(0))))
		return 0
	})
	return o.tbl
}

func (rt *runtime) application(h *asp.ApplicationHandle) *lua.LTable {
	o := rt.object()
	o.fn("Get", func(a args) int { return a.retStr(h.Get(a.str(0))) })
	o.fn("Set", func(a args) int {
		h.Set(a.str(0), a.str(1))
		return 0
	})
	o.fn("Lock", func(a args) int {
		h.Lock()
		return 0
	})
	o.fn("Unlock", func(a args) int {
		h.Unlock()
		return 0
	})
	return o.tbl
}

func (rt *runtime) server(s *asp.ServerUtil) *lua.LTable {
	o := rt.object()
	o.fn("HTMLEncode", func(a args) int { return a.retStr(s.HTMLEncode(a.str(0))) })
	o.fn("URLEncode", func(a args) int { return a.retStr(s.URLEncode(a.str(0))) })
	o.fn("MapPath", func(a args) int { return a.retStr(s.MapPath(a.str(0))) })
	return o.tbl
}
