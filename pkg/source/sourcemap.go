package source

import "sort"

// Mapping ties one generated statement back to the original text that produced it.
//
// Verbatim mappings describe code copied character for character from the
// original, so positions inside them can be translated column by column.
// Other mappings (emitted literals, output expressions) resolve to the whole
// original span.
type Mapping struct {
	Generated Span
	File      string
	Original  Span
	Verbatim  bool
}

// Location is a resolved original position.
type Location struct {
	File string
	Span Span
}

// Map is an ordered set of non-overlapping mappings in generated coordinates.
// A nil *Map resolves every span to itself.
type Map struct {
	file     string
	mappings []Mapping
}

// NewMap returns an empty map for generated source that identifies itself as file.
func NewMap(file string) *Map {
	return &Map{file: file}
}

// File is the name identity lookups resolve to.
func (m *Map) File() string {
	if m == nil {
		return ""
	}
	return m.file
}

// Add appends a mapping. Mappings must be added in generated order and must
// not overlap the previous one.
func (m *Map) Add(mp Mapping) bool {
	if n := len(m.mappings); n > 0 && !m.mappings[n-1].Generated.End.Before(mp.Generated.Start) {
		return false
	}
	m.mappings = append(m.mappings, mp)
	return true
}

// Len returns the number of mappings.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.mappings)
}

// Mappings returns a copy of the mappings in generated order.
func (m *Map) Mappings() []Mapping {
	if m == nil {
		return nil
	}
	out := make([]Mapping, len(m.mappings))
	copy(out, m.mappings)
	return out
}

// find returns the index of the mapping containing p, or -1. A zero column
// matches any mapping on the line.
func (m *Map) find(p Position) int {
	if p.Column == 0 {
		i := sort.Search(len(m.mappings), func(i int) bool {
			return m.mappings[i].Generated.End.Line >= p.Line
		})
		if i < len(m.mappings) && m.mappings[i].Generated.Start.Line <= p.Line {
			return i
		}
		return -1
	}
	i := sort.Search(len(m.mappings), func(i int) bool {
		return !m.mappings[i].Generated.End.Before(p)
	})
	if i < len(m.mappings) && m.mappings[i].Generated.Contains(p) {
		return i
	}
	return -1
}

// Resolve finds the mapping containing the generated span and returns the
// original location recorded for it. A nil map is the identity.
func (m *Map) Resolve(generated Span) (Location, bool) {
	if m == nil {
		return Location{Span: generated}, true
	}
	i := m.find(generated.Start)
	if i < 0 || !m.mappings[i].Generated.Covers(generated) {
		return Location{}, false
	}
	mp := m.mappings[i]
	return Location{File: mp.File, Span: mp.Original}, true
}

// ResolvePosition maps a single generated position. Inside verbatim mappings
// the column is translated exactly; elsewhere the statement span is returned.
func (m *Map) ResolvePosition(p Position) (Location, bool) {
	if m == nil {
		return Location{Span: Span{Start: p, End: p}}, true
	}
	i := m.find(p)
	if i < 0 {
		return Location{}, false
	}
	mp := m.mappings[i]
	if !mp.Verbatim || mp.Original.Start.Line != mp.Original.End.Line || p.Column == 0 {
		return Location{File: mp.File, Span: mp.Original}, true
	}
	col := mp.Original.Start.Column + (p.Column - mp.Generated.Start.Column)
	if col > mp.Original.End.Column {
		col = mp.Original.End.Column
	}
	if col < mp.Original.Start.Column {
		col = mp.Original.Start.Column
	}
	pos := Position{Line: mp.Original.Start.Line, Column: col}
	return Location{File: mp.File, Span: Span{Start: pos, End: pos}}, true
}

// ResolveLine maps a generated line to the original location of its statement.
func (m *Map) ResolveLine(line int) (Location, bool) {
	return m.ResolvePosition(Position{Line: line})
}

// LastLine returns the last generated line covered by the map.
func (m *Map) LastLine() int {
	if m.Len() == 0 {
		return 0
	}
	return m.mappings[len(m.mappings)-1].Generated.End.Line
}
