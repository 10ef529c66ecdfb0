package luaengine

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	lua "github.com/yuin/gopher-lua"

	"github.com/sambeau/sorrel/pkg/errcat"
)

// DateLayout is the text form of dates returned by CDate.
const DateLayout = "2006-01-02 15:04:05"

func (rt *runtime) openBuiltins() {
	errObj := rt.object()
	errObj.fn("Raise", func(a args) int {
		code := rt.integer(a.get(0))
		desc := ""
		if a.len() >= 3 {
			desc = a.str(2)
		}
		rt.raise(code, desc)
		return 0
	})
	rt.L.SetGlobal("Err", errObj.tbl)

	rt.global("IDiv", func(a args) int {
		x, y := rt.operands(a)
		if y == 0 {
			rt.raise(errcat.DivisionByZero, "")
		}
		return a.retNum(float64(x / y))
	})
	rt.global("Mod", func(a args) int {
		x, y := rt.operands(a)
		if y == 0 {
			rt.raise(errcat.DivisionByZero, "")
		}
		return a.retNum(float64(x % y))
	})
	rt.global("CInt", func(a args) int {
		n := math.RoundToEven(rt.number(a.get(0)))
		if n < math.MinInt16 || n > math.MaxInt16 {
			rt.raise(errcat.Overflow, "")
		}
		return a.retNum(n)
	})
	rt.global("CStr", func(a args) int { return a.retStr(a.str(0)) })
	rt.global("CDate", func(a args) int {
		t, err := dateparse.ParseAny(strings.TrimSpace(a.str(0)))
		if err != nil {
			rt.raise(errcat.TypeMismatch, "")
		}
		return a.retStr(t.Format(DateLayout))
	})
	rt.global("Len", func(a args) int { return a.retNum(float64(utf8.RuneCountInString(a.str(0)))) })
	rt.global("UCase", func(a args) int { return a.retStr(strings.ToUpper(a.str(0))) })
	rt.global("LCase", func(a args) int { return a.retStr(strings.ToLower(a.str(0))) })
	rt.global("Trim", func(a args) int { return a.retStr(strings.Trim(a.str(0), " ")) })
}

func (rt *runtime) global(name string, f func(a args) int) {
	rt.L.SetGlobal(name, rt.L.NewFunction(func(L *lua.LState) int {
		return f(args{L: L, base: 1})
	}))
}

// operands rounds both arguments to integers the way integer division does.
func (rt *runtime) operands(a args) (int64, int64) {
	x := math.RoundToEven(rt.number(a.get(0)))
	y := math.RoundToEven(rt.number(a.get(1)))
	if math.Abs(x) > math.MaxInt32 || math.Abs(y) > math.MaxInt32 {
		rt.raise(errcat.Overflow, "")
	}
	return int64(x), int64(y)
}

// number converts a script value to a number. nil counts as zero; anything
// that is not numeric raises a type mismatch.
func (rt *runtime) number(v lua.LValue) float64 {
	switch v := v.(type) {
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err == nil {
			return f
		}
	case *lua.LNilType:
		return 0
	}
	rt.raise(errcat.TypeMismatch, "")
	return 0
}

func (rt *runtime) integer(v lua.LValue) int {
	n := math.RoundToEven(rt.number(v))
	if n < math.MinInt32 || n > math.MaxInt32 {
		rt.raise(errcat.Overflow, "")
	}
	return int(n)
}

// text converts a script value to the string written to the page.
func text(v lua.LValue) string {
	switch v := v.(type) {
	case *lua.LNilType:
		return ""
	case lua.LBool:
		if v {
			return "True"
		}
		return "False"
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return v.String()
	}
}
