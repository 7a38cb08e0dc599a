package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned for malformed field paths.
var ErrInvalidPath = errors.New("invalid field path")

// PathStep is one segment of a field path: either an object member name or
// an array index.
type PathStep struct {
	Name    string
	Index   int
	IsIndex bool
}

// FieldPath addresses a value nested inside a document.
type FieldPath []PathStep

// ParsePath parses a field path. Three notations are accepted:
//
//	tags.name            dot notation
//	tags[0].name         array index
//	["food group"].name  quoted member names
//
// and the slash form used for partition key definitions, "/tags/name".
func ParsePath(s string) (FieldPath, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(s, "/") {
		return parseSlashPath(s)
	}

	var path FieldPath
	i := 0
	expectName := true
	for i < len(s) {
		switch c := s[i]; {
		case c == '.':
			if expectName {
				return nil, fmt.Errorf("%w: empty segment at %d in %q", ErrInvalidPath, i, s)
			}
			expectName = true
			i++
		case c == '[':
			step, next, err := parseBracket(s, i)
			if err != nil {
				return nil, err
			}
			if expectName && len(path) > 0 && s[i-1] == '.' {
				return nil, fmt.Errorf("%w: empty segment at %d in %q", ErrInvalidPath, i, s)
			}
			path = append(path, step)
			expectName = false
			i = next
		default:
			if !expectName {
				return nil, fmt.Errorf("%w: unexpected %q at %d in %q", ErrInvalidPath, c, i, s)
			}
			start := i
			for i < len(s) && s[i] != '.' && s[i] != '[' {
				if !isIdentByte(s[i], i == start) {
					return nil, fmt.Errorf("%w: unexpected %q at %d in %q", ErrInvalidPath, s[i], i, s)
				}
				i++
			}
			path = append(path, PathStep{Name: s[start:i]})
			expectName = false
		}
	}
	if expectName {
		return nil, fmt.Errorf("%w: trailing separator in %q", ErrInvalidPath, s)
	}
	return path, nil
}

// MustParsePath is ParsePath for literals known to be valid.
func MustParsePath(s string) FieldPath {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSlashPath(s string) (FieldPath, error) {
	parts := strings.Split(s[1:], "/")
	path := make(FieldPath, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, s)
		}
		path = append(path, PathStep{Name: part})
	}
	return path, nil
}

func parseBracket(s string, i int) (PathStep, int, error) {
	i++ // '['
	if i >= len(s) {
		return PathStep{}, 0, fmt.Errorf("%w: unterminated bracket in %q", ErrInvalidPath, s)
	}
	if q := s[i]; q == '"' || q == '\'' {
		end := strings.IndexByte(s[i+1:], q)
		if end < 0 {
			return PathStep{}, 0, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidPath, s)
		}
		name := s[i+1 : i+1+end]
		i += end + 2
		if i >= len(s) || s[i] != ']' {
			return PathStep{}, 0, fmt.Errorf("%w: unterminated bracket in %q", ErrInvalidPath, s)
		}
		return PathStep{Name: name}, i + 1, nil
	}
	end := strings.IndexByte(s[i:], ']')
	if end < 0 {
		return PathStep{}, 0, fmt.Errorf("%w: unterminated bracket in %q", ErrInvalidPath, s)
	}
	n, err := strconv.Atoi(s[i : i+end])
	if err != nil || n < 0 {
		return PathStep{}, 0, fmt.Errorf("%w: bad array index %q in %q", ErrInvalidPath, s[i:i+end], s)
	}
	return PathStep{Index: n, IsIndex: true}, i + end + 1, nil
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_' || c == '$':
		return true
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return c >= 0x80
}

// String renders the path in dot/bracket notation.
func (p FieldPath) String() string {
	var b strings.Builder
	for i, step := range p {
		switch {
		case step.IsIndex:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(step.Index))
			b.WriteByte(']')
		case needsQuoting(step.Name):
			fmt.Fprintf(&b, "[%q]", step.Name)
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(step.Name)
		}
	}
	return b.String()
}

func needsQuoting(name string) bool {
	if name == "" {
		return true
	}
	for i := 0; i < len(name); i++ {
		if !isIdentByte(name[i], i == 0) {
			return true
		}
	}
	return false
}

// Equal reports whether two paths address the same location.
func (p FieldPath) Equal(o FieldPath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Resolve walks the path through doc. Missing members, out-of-range
// indexes and dotting into a non-object all yield undefined.
func (p FieldPath) Resolve(doc Document) Value {
	if len(p) == 0 || p[0].IsIndex {
		return Value{}
	}
	cur, ok := doc[p[0].Name]
	if !ok {
		return Value{}
	}
	return p[1:].ResolveValue(cur)
}

// ResolveValue walks the path starting at v.
func (p FieldPath) ResolveValue(v Value) Value {
	for _, step := range p {
		if step.IsIndex {
			v = v.Index(step.Index)
		} else {
			v = v.Field(step.Name)
		}
		if !v.IsDefined() {
			return v
		}
	}
	return v
}
