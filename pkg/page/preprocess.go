// Package page turns classic server pages (markup mixed with script blocks)
// into pure script source, a table of literal markup and a source map.
//
// Supported constructs:
//
//	<% code %>                        code, copied line by line
//	<%= expr %>                       output expression
//	<%@ LANGUAGE="lua" %>             page directive
//	<!-- #include file="a.inc" -->    include relative to the including file
//	<!-- #include virtual="/a.inc" --> include relative to the script root
//
// Everything else is literal markup and is written through the literal table,
// so generated source stays small however large the markup is.
package page

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sambeau/sorrel/pkg/source"
)

// Emitter renders the statements the preprocessor generates. Each returned
// statement must fit on a single line.
type Emitter interface {
	// Literal writes entry index (0-based) of the literal table.
	Literal(index int) string
	// Output writes the value of a script expression.
	Output(expr string) string
}

// Page is the result of preprocessing one entry file.
type Page struct {
	Entry      string
	Source     string
	Map        *source.Map
	Literals   []string
	Directives map[string]string
	Files      []string // entry first, then includes in first-seen order
}

// IncludeError reports an include directive whose target could not be used.
type IncludeError struct {
	File   string      // file containing the directive
	Span   source.Span // span of the directive
	Target string      // path as written
	Cycle  bool        // target is already being included
	Err    error
}

func (e *IncludeError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("circular include of %q in %s at line %d", e.Target, e.File, e.Span.Start.Line)
	}
	return fmt.Sprintf("include file not found: %q in %s at line %d", e.Target, e.File, e.Span.Start.Line)
}

func (e *IncludeError) Unwrap() error { return e.Err }

// Preprocessor converts pages. Root bounds virtual includes and every include
// target; Loader reads included files.
type Preprocessor struct {
	Root    string
	Loader  source.Loader
	Emitter Emitter
}

var (
	includeRe   = regexp.MustCompile(`(?is)^<!--\s*#include\s+(file|virtual)\s*=\s*"([^"]*)"\s*-->`)
	directiveRe = regexp.MustCompile(`(\w+)\s*=\s*(?:"([^"]*)"|(\S+))`)
)

// Preprocess converts entry and everything it includes.
func (p *Preprocessor) Preprocess(entry source.Unit) (*Page, error) {
	b := &builder{
		pp:         p,
		m:          source.NewMap(entry.Filename),
		directives: make(map[string]string),
		seen:       make(map[string]bool),
	}
	if err := b.process(entry); err != nil {
		return nil, err
	}
	return &Page{
		Entry:      entry.Filename,
		Source:     strings.Join(b.lines, "\n"),
		Map:        b.m,
		Literals:   b.literals,
		Directives: b.directives,
		Files:      b.files,
	}, nil
}

type builder struct {
	pp         *Preprocessor
	lines      []string
	m          *source.Map
	literals   []string
	directives map[string]string
	files      []string
	seen       map[string]bool
	active     []string
}

// emit appends one generated line and maps it to the original span.
func (b *builder) emit(stmt, file string, orig source.Span, verbatim bool) {
	b.lines = append(b.lines, stmt)
	line := len(b.lines)
	if stmt == "" {
		return
	}
	b.m.Add(source.Mapping{
		Generated: source.Span{
			Start: source.Position{Line: line, Column: 1},
			End:   source.Position{Line: line, Column: utf8.RuneCountInString(stmt)},
		},
		File:     file,
		Original: orig,
		Verbatim: verbatim,
	})
}

func (b *builder) process(u source.Unit) error {
	b.active = append(b.active, u.Filename)
	defer func() { b.active = b.active[:len(b.active)-1] }()
	if !b.seen[u.Filename] {
		b.seen[u.Filename] = true
		b.files = append(b.files, u.Filename)
	}

	t := newText(u.Text)
	pos := 0
	for pos < len(u.Text) {
		start, kind := t.nextTag(pos)
		if start > pos {
			b.literal(u.Filename, t, pos, start)
		}
		if kind == tagNone {
			break
		}
		var err error
		pos, err = b.tag(u, t, start, kind)
		if err != nil {
			return err
		}
	}
	return nil
}

// newlines flattens an output expression onto its single generated line.
var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func (b *builder) literal(file string, t *text, from, to int) {
	idx := len(b.literals)
	b.literals = append(b.literals, t.s[from:to])
	b.emit(b.pp.Emitter.Literal(idx), file, t.span(from, to), false)
}

// tag handles the construct starting at start and returns the offset after it.
func (b *builder) tag(u source.Unit, t *text, start int, kind tagKind) (int, error) {
	if kind == tagInclude {
		m := includeRe.FindStringSubmatch(t.s[start:])
		end := start + len(m[0])
		if err := b.include(u.Filename, t.span(start, end), strings.ToLower(m[1]) == "virtual", m[2]); err != nil {
			return 0, err
		}
		return end, nil
	}

	bodyStart := start + 2
	end := len(t.s)
	bodyEnd := end
	if i := strings.Index(t.s[bodyStart:], "%>"); i >= 0 {
		bodyEnd = bodyStart + i
		end = bodyEnd + 2
	}

	switch {
	case strings.HasPrefix(t.s[bodyStart:], "@"):
		for _, m := range directiveRe.FindAllStringSubmatch(t.s[bodyStart+1:bodyEnd], -1) {
			v := m[2]
			if v == "" {
				v = m[3]
			}
			b.directives[strings.ToUpper(m[1])] = v
		}
	case strings.HasPrefix(t.s[bodyStart:], "="):
		expr := strings.TrimSpace(stripLineComments(t.s[bodyStart+1 : bodyEnd]))
		expr = newlines.Replace(expr)
		if expr != "" {
			b.emit(b.pp.Emitter.Output(expr), u.Filename, t.span(start, end), false)
		}
	default:
		b.code(u.Filename, t, bodyStart, bodyEnd)
	}
	return end, nil
}

// code copies a code block one line at a time. Lines are kept exactly as
// written so long strings survive; the mapping starts after the indentation.
func (b *builder) code(file string, t *text, from, to int) {
	for from <= to {
		nl := strings.IndexByte(t.s[from:to], '\n')
		lineEnd := to
		if nl >= 0 {
			lineEnd = from + nl
		}
		seg := t.s[from:lineEnd]
		b.lines = append(b.lines, seg)
		body := strings.TrimLeft(seg, " \t")
		lead := len(seg) - len(body)
		body = strings.TrimRight(body, " \t\r")
		if body != "" {
			line := len(b.lines)
			col := lead + 1
			s := from + lead
			b.m.Add(source.Mapping{
				Generated: source.Span{
					Start: source.Position{Line: line, Column: col},
					End:   source.Position{Line: line, Column: col + utf8.RuneCountInString(body) - 1},
				},
				File:     file,
				Original: t.span(s, s+len(body)),
				Verbatim: true,
			})
		}
		if nl < 0 {
			break
		}
		from = lineEnd + 1
	}
}

// stripLineComments drops "--" line comments from an output expression so
// that flattening it onto one line cannot comment out the closing paren.
// Strings, long strings and block comments are left intact.
func stripLineComments(expr string) string {
	if !strings.Contains(expr, "--") {
		return expr
	}
	var sb strings.Builder
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(expr) && expr[j] != c && expr[j] != '\n' {
				if expr[j] == '\\' {
					j++
				}
				j++
			}
			j = min(j+1, len(expr))
			sb.WriteString(expr[i:j])
			i = j
		case c == '[' && longBracket(expr[i:]) > 0:
			j := skipLong(expr, i, longBracket(expr[i:]))
			sb.WriteString(expr[i:j])
			i = j
		case strings.HasPrefix(expr[i:], "--"):
			if n := longBracket(expr[i+2:]); n > 0 {
				j := skipLong(expr, i+2, n)
				sb.WriteString(expr[i:j])
				i = j
				continue
			}
			if j := strings.IndexByte(expr[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(expr)
			}
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

// longBracket returns the length of the Lua long bracket opener ("[[", "[=[",
// ...) at the start of s, or 0.
func longBracket(s string) int {
	if !strings.HasPrefix(s, "[") {
		return 0
	}
	i := 1
	for i < len(s) && s[i] == '=' {
		i++
	}
	if i < len(s) && s[i] == '[' {
		return i + 1
	}
	return 0
}

// skipLong returns the offset just past the long bracket that opens at i.
func skipLong(s string, i, n int) int {
	closer := "]" + strings.Repeat("=", n-2) + "]"
	end := strings.Index(s[i+n:], closer)
	if end < 0 {
		return len(s)
	}
	return i + n + end + len(closer)
}

func (b *builder) include(file string, sp source.Span, virtual bool, target string) error {
	var path string
	if virtual {
		path = filepath.Join(b.pp.Root, filepath.FromSlash(strings.TrimPrefix(target, "/")))
	} else {
		path = filepath.Join(filepath.Dir(file), filepath.FromSlash(target))
	}
	path = filepath.Clean(path)

	if b.pp.Root != "" && !within(b.pp.Root, path) {
		return &IncludeError{File: file, Span: sp, Target: target, Err: fmt.Errorf("%s is outside the script root", path)}
	}
	for _, f := range b.active {
		if f == path {
			return &IncludeError{File: file, Span: sp, Target: target, Cycle: true}
		}
	}
	unit, err := b.pp.Loader.Load(path)
	if err != nil {
		return &IncludeError{File: file, Span: sp, Target: target, Err: err}
	}
	return b.process(unit)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type tagKind int

const (
	tagNone tagKind = iota
	tagScript
	tagInclude
)

// text indexes a file's lines so byte offsets convert to positions.
type text struct {
	s          string
	lineStarts []int
}

func newText(s string) *text {
	starts := []int{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &text{s: s, lineStarts: starts}
}

func (t *text) pos(off int) source.Position {
	line := sort.Search(len(t.lineStarts), func(i int) bool { return t.lineStarts[i] > off }) - 1
	col := utf8.RuneCountInString(t.s[t.lineStarts[line]:off]) + 1
	return source.Position{Line: line + 1, Column: col}
}

// span covers bytes [from, to). The end position is that of the last rune.
func (t *text) span(from, to int) source.Span {
	_, size := utf8.DecodeLastRuneInString(t.s[:to])
	return source.Span{Start: t.pos(from), End: t.pos(to - size)}
}

// nextTag finds the next script tag or include directive at or after from.
func (t *text) nextTag(from int) (int, tagKind) {
	script := strings.Index(t.s[from:], "<%")
	if script >= 0 {
		script += from
	}
	search := from
	for {
		i := strings.Index(t.s[search:], "<!--")
		if i < 0 {
			break
		}
		i += search
		if script >= 0 && i > script {
			break
		}
		if includeRe.MatchString(t.s[i:]) {
			return i, tagInclude
		}
		search = i + 4
	}
	if script >= 0 {
		return script, tagScript
	}
	return len(t.s), tagNone
}
