// Package source holds source units, positions and the generated-to-original
// source map used to report diagnostics against the files authors wrote.
package source

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Unit identifies one physical file and its text. Units are never modified
// after they are loaded.
type Unit struct {
	Filename string
	Text     string
}

// Position is a 1-based line and column. Columns count runes.
type Position struct {
	Line   int
	Column int
}

// IsZero reports whether p is the unknown position.
func (p Position) IsZero() bool {
	return p.Line == 0 && p.Column == 0
}

// Before reports whether p comes strictly before q.
func (p Position) Before(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Column < q.Column
}

func (p Position) String() string {
	return fmt.Sprintf("%d,%d", p.Line, p.Column)
}

// Span is an inclusive range of positions.
type Span struct {
	Start Position
	End   Position
}

// IsZero reports whether s carries no location.
func (s Span) IsZero() bool {
	return s.Start.IsZero() && s.End.IsZero()
}

// Contains reports whether p lies inside s.
func (s Span) Contains(p Position) bool {
	return !p.Before(s.Start) && !s.End.Before(p)
}

// Covers reports whether other lies entirely inside s.
func (s Span) Covers(other Span) bool {
	return s.Contains(other.Start) && s.Contains(other.End)
}

// Loader reads source units by path.
type Loader interface {
	Load(path string) (Unit, error)
}

// FileLoader reads units from disk, decoding them from a configured charset.
type FileLoader struct {
	enc encoding.Encoding
}

// NewFileLoader returns a loader for the named charset. An empty name means UTF-8.
// Names are resolved the way browsers resolve them ("windows-1252", "latin1", ...).
func NewFileLoader(charset string) (*FileLoader, error) {
	if charset == "" {
		return &FileLoader{enc: unicode.UTF8}, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	return &FileLoader{enc: enc}, nil
}

// Load reads and decodes the file at path.
func (l *FileLoader) Load(path string) (Unit, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Unit{}, err
	}
	text, err := l.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return Unit{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return Unit{Filename: filepath.Clean(path), Text: string(text)}, nil
}
