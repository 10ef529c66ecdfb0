package page

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sambeau/sorrel/pkg/source"
)

type testEmitter struct{}

func (testEmitter) Literal(i int) string      { return fmt.Sprintf("lit(%d)", i) }
func (testEmitter) Output(expr string) string { return "out(" + expr + ")" }

// mapLoader serves files from memory.
type mapLoader map[string]string

func (m mapLoader) Load(path string) (source.Unit, error) {
	text, ok := m[filepath.Clean(path)]
	if !ok {
		return source.Unit{}, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return source.Unit{Filename: filepath.Clean(path), Text: text}, nil
}

const root = "/site"

func newPreprocessor(files mapLoader) *Preprocessor {
	return &Preprocessor{Root: root, Loader: files, Emitter: testEmitter{}}
}

func sp(l1, c1, l2, c2 int) source.Span {
	return source.Span{Start: source.Position{Line: l1, Column: c1}, End: source.Position{Line: l2, Column: c2}}
}

func TestPreprocessPlainMarkup(t *testing.T) {
	p := newPreprocessor(nil)
	pg, err := p.Preprocess(source.Unit{Filename: "/site/page.asp", Text: "Hello"})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if pg.Source != "lit(0)" {
		t.Errorf("Source = %q", pg.Source)
	}
	if len(pg.Literals) != 1 || pg.Literals[0] != "Hello" {
		t.Errorf("Literals = %q", pg.Literals)
	}
	loc, ok := pg.Map.ResolveLine(1)
	if !ok || loc.Span != sp(1, 1, 1, 5) || loc.File != "/site/page.asp" {
		t.Errorf("ResolveLine(1) = %+v, %v", loc, ok)
	}
}

func TestPreprocessMixed(t *testing.T) {
	text := "<html>\n<% x = 1\n   y = 2 %>\n<%= x +\ny %>"
	p := newPreprocessor(nil)
	pg, err := p.Preprocess(source.Unit{Filename: "/site/page.asp", Text: text})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}

	want := strings.Join([]string{"lit(0)", " x = 1", "   y = 2 ", "lit(1)", "out(x + y)"}, "\n")
	if pg.Source != want {
		t.Errorf("Source =\n%s\nwant\n%s", pg.Source, want)
	}
	if pg.Literals[0] != "<html>\n" || pg.Literals[1] != "\n" {
		t.Errorf("Literals = %q", pg.Literals)
	}

	tests := []struct {
		line int
		want source.Span
	}{
		{1, sp(1, 1, 1, 7)},
		{2, sp(2, 4, 2, 8)},
		{3, sp(3, 4, 3, 8)},
		{4, sp(3, 12, 3, 12)},
		{5, sp(4, 1, 5, 4)},
	}
	for _, tt := range tests {
		loc, ok := pg.Map.ResolveLine(tt.line)
		if !ok {
			t.Errorf("line %d not mapped", tt.line)
			continue
		}
		if loc.Span != tt.want {
			t.Errorf("line %d: span %v, want %v", tt.line, loc.Span, tt.want)
		}
	}

	// Columns inside verbatim code translate exactly.
	loc, _ := pg.Map.ResolvePosition(source.Position{Line: 3, Column: 6})
	if loc.Span.Start != (source.Position{Line: 3, Column: 6}) {
		t.Errorf("ResolvePosition = %v", loc.Span.Start)
	}
}

func TestPreprocessEveryStatementMapped(t *testing.T) {
	text := "a<% f()\n\n g() %>b<%= h() %>c"
	pg, err := newPreprocessor(nil).Preprocess(source.Unit{Filename: "/site/p.asp", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	for i, line := range strings.Split(pg.Source, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, ok := pg.Map.ResolveLine(i + 1); !ok {
			t.Errorf("generated line %d %q has no mapping", i+1, line)
		}
	}
}

func TestPreprocessDirective(t *testing.T) {
	text := `<%@ LANGUAGE="Lua" codepage=65001 %>Hi`
	pg, err := newPreprocessor(nil).Preprocess(source.Unit{Filename: "/site/p.asp", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if pg.Directives["LANGUAGE"] != "Lua" || pg.Directives["CODEPAGE"] != "65001" {
		t.Errorf("Directives = %v", pg.Directives)
	}
	if pg.Source != "lit(0)" {
		t.Errorf("Source = %q", pg.Source)
	}
}

func TestPreprocessIncludes(t *testing.T) {
	files := mapLoader{
		"/site/inc/a.inc": "<% f() %>",
		"/site/inc/b.inc": "B",
	}
	text := "<!-- #include file=\"inc/a.inc\" -->after\n<!--#INCLUDE VIRTUAL=\"/inc/b.inc\"-->"
	pg, err := newPreprocessor(files).Preprocess(source.Unit{Filename: "/site/page.asp", Text: text})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if pg.Source != " f() \nlit(0)\nlit(1)" {
		t.Errorf("Source = %q", pg.Source)
	}
	if pg.Literals[0] != "after\n" || pg.Literals[1] != "B" {
		t.Errorf("Literals = %q", pg.Literals)
	}
	loc, _ := pg.Map.ResolveLine(1)
	if loc.File != "/site/inc/a.inc" || loc.Span != sp(1, 4, 1, 6) {
		t.Errorf("include mapping = %+v", loc)
	}
	wantFiles := []string{"/site/page.asp", "/site/inc/a.inc", "/site/inc/b.inc"}
	if strings.Join(pg.Files, ",") != strings.Join(wantFiles, ",") {
		t.Errorf("Files = %v", pg.Files)
	}
}

func TestPreprocessCommentIsLiteral(t *testing.T) {
	text := "<!-- just a comment --><% x() %>"
	pg, err := newPreprocessor(nil).Preprocess(source.Unit{Filename: "/site/p.asp", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if pg.Literals[0] != "<!-- just a comment -->" {
		t.Errorf("Literals = %q", pg.Literals)
	}
}

func TestPreprocessIncludeNotFound(t *testing.T) {
	text := "line one\n  <!-- #include file=\"missing.inc\" -->"
	_, err := newPreprocessor(mapLoader{}).Preprocess(source.Unit{Filename: "/site/page.asp", Text: text})
	var incErr *IncludeError
	if !errors.As(err, &incErr) {
		t.Fatalf("expected IncludeError, got %v", err)
	}
	if incErr.Cycle {
		t.Error("not a cycle")
	}
	if incErr.Target != "missing.inc" || incErr.File != "/site/page.asp" {
		t.Errorf("IncludeError = %+v", incErr)
	}
	if incErr.Span.Start != (source.Position{Line: 2, Column: 3}) {
		t.Errorf("Span = %v", incErr.Span)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected wrapped not-exist error")
	}
}

func TestPreprocessIncludeCycle(t *testing.T) {
	files := mapLoader{
		"/site/a.inc": `<!-- #include file="b.inc" -->`,
		"/site/b.inc": `<!-- #include file="a.inc" -->`,
	}
	_, err := newPreprocessor(files).Preprocess(source.Unit{Filename: "/site/page.asp", Text: `<!-- #include file="a.inc" -->`})
	var incErr *IncludeError
	if !errors.As(err, &incErr) || !incErr.Cycle {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if incErr.File != "/site/b.inc" {
		t.Errorf("File = %s", incErr.File)
	}
}

func TestPreprocessIncludeOutsideRoot(t *testing.T) {
	files := mapLoader{"/etc/passwd": "root"}
	_, err := newPreprocessor(files).Preprocess(source.Unit{Filename: "/site/page.asp", Text: `<!-- #include file="../etc/passwd" -->`})
	var incErr *IncludeError
	if !errors.As(err, &incErr) {
		t.Fatalf("expected IncludeError, got %v", err)
	}
}

func TestPreprocessLiteralsIndependentOfSize(t *testing.T) {
	big := strings.Repeat("<p>markup</p>\n", 5000)
	pg, err := newPreprocessor(nil).Preprocess(source.Unit{Filename: "/site/p.asp", Text: big + "<% x() %>"})
	if err != nil {
		t.Fatal(err)
	}
	if pg.Source != "lit(0)\n x() " {
		t.Errorf("Source = %q", pg.Source)
	}
	if pg.Literals[0] != big {
		t.Error("literal text not preserved")
	}
}

func TestPreprocessCodeCopiedVerbatim(t *testing.T) {
	text := "<% local s = [[\n    indented  \n]]\nResponse.Write(s) %>"
	pg, err := newPreprocessor(nil).Preprocess(source.Unit{Filename: "/site/p.asp", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	want := " local s = [[\n    indented  \n]]\nResponse.Write(s) "
	if pg.Source != want {
		t.Errorf("Source = %q, want %q", pg.Source, want)
	}

	// The mapping still starts at the first non-blank column.
	loc, ok := pg.Map.ResolvePosition(source.Position{Line: 2, Column: 5})
	if !ok || loc.Span.Start != (source.Position{Line: 2, Column: 5}) {
		t.Errorf("ResolvePosition = %+v, %v", loc, ok)
	}
	loc, ok = pg.Map.ResolvePosition(source.Position{Line: 1, Column: 2})
	if !ok || loc.Span.Start != (source.Position{Line: 1, Column: 4}) {
		t.Errorf("ResolvePosition = %+v, %v", loc, ok)
	}
}

func TestPreprocessOutputLineComment(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"<%= 1 -- one\n %>", "out(1)"},
		{"<%= a -- first\n + b -- second\n %>", "out(a   + b)"},
		{`<%= "a--b" %>`, `out("a--b")`},
		{`<%= 'x' .. 'y' -- c %>`, `out('x' .. 'y')`},
		{"<%= [[x--y]] -- c %>", "out([[x--y]])"},
		{"<%= f(--[[ note ]] 2) %>", "out(f(--[[ note ]] 2))"},
		{`<%= "say \"--\"" %>`, `out("say \"--\"")`},
	}
	for _, tt := range tests {
		pg, err := newPreprocessor(nil).Preprocess(source.Unit{Filename: "/site/p.asp", Text: tt.text})
		if err != nil {
			t.Fatalf("%q: %v", tt.text, err)
		}
		if pg.Source != tt.want {
			t.Errorf("%q: Source = %q, want %q", tt.text, pg.Source, tt.want)
		}
	}
}
