package luaengine

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sambeau/sorrel/pkg/asp"
	"github.com/sambeau/sorrel/pkg/errcat"
	"github.com/sambeau/sorrel/pkg/script"
	"github.com/sambeau/sorrel/pkg/source"
)

type bufSink struct {
	body   strings.Builder
	header http.Header
	status int
}

func newBufSink() *bufSink {
	return &bufSink{header: http.Header{}, status: http.StatusOK}
}

func (s *bufSink) Write(p []byte) <-chan error {
	s.body.Write(p)
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (s *bufSink) Header() http.Header      { return s.header }
func (s *bufSink) Status() int              { return s.status }
func (s *bufSink) SetStatus(code int)       { s.status = code }
func (s *bufSink) SetCookie(c *http.Cookie) {}
func (s *bufSink) Clear()                   { s.body.Reset() }
func (s *bufSink) Connected() bool          { return true }

// site writes files under a temporary root and returns a registry for it.
func site(t *testing.T, files map[string]string) (*script.Registry, string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	loader, err := source.NewFileLoader("")
	if err != nil {
		t.Fatal(err)
	}
	reg := script.NewRegistry(script.Options{
		Engine:  New(Options{}),
		Emitter: Emitter{},
		Loader:  loader,
		Root:    root,
	})
	return reg, root
}

func run(t *testing.T, reg *script.Registry, path string, instrumented bool) (*bufSink, bool, []script.RuntimeFault) {
	t.Helper()
	sink := newBufSink()
	env := script.NewEnvironment()
	if err := env.Bind("Response", asp.NewResponse(sink)); err != nil {
		t.Fatal(err)
	}
	executed, faults := reg.Unit(path).Run(env, instrumented)
	return sink, executed, faults
}

func TestRenderPage(t *testing.T) {
	reg, root := site(t, map[string]string{
		"index.asp": "<h1><%= Title %></h1>\n<% for i = 1, 3 do %><%= i %>,<% end %>\n" +
			"<!-- #include file=\"footer.inc\" -->",
		"footer.inc": "<footer><%= UCase(\"bye\") %></footer>",
	})
	sink := newBufSink()
	env := script.NewEnvironment()
	_ = env.Bind("Response", asp.NewResponse(sink))
	_ = env.Bind("Title", "Home")

	executed, faults := reg.Unit(filepath.Join(root, "index.asp")).Run(env, true)
	if !executed || len(faults) != 0 {
		t.Fatalf("Run = %v, %+v", executed, faults)
	}
	want := "<h1>Home</h1>\n1,2,3,\n<footer>BYE</footer>"
	if got := sink.body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestPageTextSurvivesTranslation(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"long string", "<% local s = [[\n    indented  \n]]\nResponse.Write(s) %>", "    indented  \n"},
		{"output comment", "<%= 1 -- one\n %>after", "1after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, root := site(t, map[string]string{"p.asp": tt.page})
			sink, executed, faults := run(t, reg, filepath.Join(root, "p.asp"), true)
			if !executed || len(faults) != 0 {
				t.Fatalf("Run = %v, %+v", executed, faults)
			}
			if got := sink.body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSyntaxErrorInPage(t *testing.T) {
	reg, root := site(t, map[string]string{
		"bad.asp": "<p>\n<% x = = 1 %>",
	})
	path := filepath.Join(root, "bad.asp")
	for _, instrumented := range []bool{true, false} {
		sink, executed, faults := run(t, reg, path, instrumented)
		if executed {
			t.Fatal("page with a syntax error executed")
		}
		if len(faults) != 1 || faults[0].Kind != script.KindSyntax || faults[0].Code != errcat.SyntaxError {
			t.Fatalf("faults = %+v", faults)
		}
		if faults[0].File != path || faults[0].Span.Start.Line != 2 {
			t.Errorf("location = %s %v", faults[0].File, faults[0].Span)
		}
		if sink.body.Len() != 0 {
			t.Errorf("output written: %q", sink.body.String())
		}
	}
}

func TestUnterminatedString(t *testing.T) {
	_, err := New(Options{}).Compile("x = \"abc", "p.asp", script.Plain)
	var se *script.SyntaxError
	if !errors.As(err, &se) || se.Diagnostics[0].Code != errcat.UnterminatedString {
		t.Errorf("Compile error = %#v", err)
	}
}

func TestCompileSharesNothingBetweenRuns(t *testing.T) {
	e := New(Options{})
	prog, err := e.Compile("counter = (counter or 0) + 1\nResponse.Write(counter)", "p.asp", script.Plain)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		sink := newBufSink()
		env := script.NewEnvironment()
		_ = env.Bind("Response", asp.NewResponse(sink))
		if err := e.Execute(prog, env); err != nil {
			t.Fatal(err)
		}
		if sink.body.String() != "1" {
			t.Fatalf("run %d wrote %q", i, sink.body.String())
		}
	}
}

func TestRuntimeFaultLocation(t *testing.T) {
	text := "<p>\n<% local a = 1\n   local b = IDiv(a, 0) %>\n</p>"
	reg, root := site(t, map[string]string{"div.asp": text})
	path := filepath.Join(root, "div.asp")

	sink, executed, faults := run(t, reg, path, true)
	if !executed || len(faults) != 1 {
		t.Fatalf("Run = %v, %+v", executed, faults)
	}
	f := faults[0]
	if f.Code != errcat.DivisionByZero || f.Message != "Division by zero" {
		t.Errorf("fault = %+v", f)
	}
	want := source.Span{Start: source.Position{Line: 3, Column: 4}, End: source.Position{Line: 3, Column: 23}}
	if f.File != path || f.Span != want {
		t.Errorf("location = %s %v, want %v", f.File, f.Span, want)
	}
	if sink.body.String() != "<p>\n" {
		t.Errorf("output before the fault = %q", sink.body.String())
	}

	_, _, plain := run(t, reg, path, false)
	if plain[0].Code != errcat.DivisionByZero || !plain[0].Span.IsZero() || plain[0].File != path {
		t.Errorf("plain fault = %+v", plain[0])
	}
}

func TestRuntimeErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"index nil", "local t = nil; local x = t.y", errcat.ObjectRequired},
		{"call nil", "nofunc()", errcat.NoSuchMember},
		{"arithmetic", "local x = 1 + {}", errcat.TypeMismatch},
		{"error call", "error('boom')", errcat.InvalidProcedureCall},
		{"Err.Raise", "Err.Raise(9, 'src')", errcat.SubscriptOutOfRange},
		{"Mod by zero", "Mod(4, 0)", errcat.DivisionByZero},
		{"CInt overflow", "CInt(40000)", errcat.Overflow},
		{"CInt mismatch", "CInt('abc')", errcat.TypeMismatch},
		{"CDate mismatch", "CDate('not a date at all')", errcat.TypeMismatch},
		{"unsupported", "Response.Flush()", errcat.ActionNotSupported},
		{"bad status", "Response.SetStatus(7)", errcat.InvalidProcedureCall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, root := site(t, map[string]string{"p.asp": "<% " + tt.code + " %>"})
			_, executed, faults := run(t, reg, filepath.Join(root, "p.asp"), true)
			if !executed || len(faults) != 1 {
				t.Fatalf("Run = %v, %+v", executed, faults)
			}
			if faults[0].Code != tt.want {
				t.Errorf("code = %d (%s), want %d", faults[0].Code, faults[0].Detail, tt.want)
			}
			if faults[0].Span.Start.Line != 1 {
				t.Errorf("span = %v", faults[0].Span)
			}
		})
	}
}

func TestErrRaiseCustomDescription(t *testing.T) {
	reg, root := site(t, map[string]string{"p.asp": "<% Err.Raise(9001, 'app', 'stock exhausted') %>"})
	_, _, faults := run(t, reg, filepath.Join(root, "p.asp"), false)
	if faults[0].Code != 9001 || faults[0].Message != "stock exhausted" {
		t.Errorf("fault = %+v", faults[0])
	}
}

func TestUnsupportedMemberKind(t *testing.T) {
	reg, root := site(t, map[string]string{"p.asp": "<% Response:BinaryWrite('x') %>"})
	_, _, faults := run(t, reg, filepath.Join(root, "p.asp"), false)
	if faults[0].Kind != script.KindUnsupported || faults[0].Code != errcat.ActionNotSupported {
		t.Errorf("fault = %+v", faults[0])
	}
}

func TestResponseEndIsNotAFault(t *testing.T) {
	reg, root := site(t, map[string]string{"p.asp": "a<% Response.End() %>b"})
	sink, executed, faults := run(t, reg, filepath.Join(root, "p.asp"), true)
	if !executed || len(faults) != 0 {
		t.Fatalf("Run = %v, %+v", executed, faults)
	}
	if sink.body.String() != "a" {
		t.Errorf("body = %q", sink.body.String())
	}
}

func TestRedirect(t *testing.T) {
	reg, root := site(t, map[string]string{"p.asp": "gone<% Response.Redirect('/new', true) %>never"})
	sink, _, faults := run(t, reg, filepath.Join(root, "p.asp"), false)
	if len(faults) != 0 {
		t.Fatalf("faults = %+v", faults)
	}
	if sink.status != http.StatusMovedPermanently || sink.header.Get("Location") != "/new" || sink.body.Len() != 0 {
		t.Errorf("status %d location %q body %q", sink.status, sink.header.Get("Location"), sink.body.String())
	}
}

func TestBuiltins(t *testing.T) {
	page := "<%= IDiv(7, 2) %>|<%= Mod(7, 3) %>|<%= CInt(2.5) %>|<%= CInt('3.5') %>|" +
		"<%= CStr(true) %>|<%= Len('héllo') %>|<%= LCase('ABC') %>|<%= Trim('  x  ') %>|" +
		"<%= CDate('2024-03-01 10:30') %>|<%= 1.5 %>"
	reg, root := site(t, map[string]string{"p.asp": page})
	sink, _, faults := run(t, reg, filepath.Join(root, "p.asp"), false)
	if len(faults) != 0 {
		t.Fatalf("faults = %+v", faults)
	}
	want := "3|1|2|4|True|5|abc|x|2024-03-01 10:30:00|1.5"
	if got := sink.body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestLegacyObjects(t *testing.T) {
	page := "<%= Request.QueryString('q') %>|<%= Server:HTMLEncode('<b>') %>|" +
		"<% Session.Set('n', 'v') %><%= Session.Get('n') %>|" +
		"<% Application.Lock() Application.Set('k', 'w') Application.Unlock() %><%= Application.Get('k') %>"
	reg, root := site(t, map[string]string{"p.asp": page})

	req, _ := http.NewRequest("GET", "http://localhost/p.asp?q=find", nil)
	sink := newBufSink()
	env := script.NewEnvironment()
	app := asp.NewApplication().Handle()
	defer app.Release()
	sess := asp.NewSession("s1", nil, 20)
	for name, v := range map[string]any{
		"Response":    asp.NewResponse(sink),
		"Request":     asp.NewRequest(req),
		"Server":      asp.NewServerUtil(root, "/p.asp"),
		"Session":     sess,
		"Application": app,
	} {
		if err := env.Bind(name, v); err != nil {
			t.Fatal(err)
		}
	}

	_, faults := reg.Unit(filepath.Join(root, "p.asp")).Run(env, false)
	if len(faults) != 0 {
		t.Fatalf("faults = %+v", faults)
	}
	if got, want := sink.body.String(), "find|&lt;b&gt;|v|w"; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if !sess.Dirty() {
		t.Error("session not marked dirty")
	}
}

func TestBindRejectsUnknownValues(t *testing.T) {
	e := New(Options{})
	prog, err := e.Compile("x = 1", "p.asp", script.Plain)
	if err != nil {
		t.Fatal(err)
	}
	env := script.NewEnvironment()
	_ = env.Bind("Weird", struct{}{})
	var ee *script.ExecError
	if err := e.Execute(prog, env); !errors.As(err, &ee) || ee.Code != errcat.InternalError {
		t.Errorf("Execute = %v", err)
	}
}
