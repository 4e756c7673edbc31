package codec

import (
	"fmt"
	"math"
	"strconv"
)

// Read parses doc as a record of the given shape.
//
// The document is checked as a whole before anything is bound: it must be a
// single brace-delimited object with terminated strings and balanced brackets,
// otherwise a *SyntaxError is returned. After that, fields are located by key,
// missing or null fields are left out of the result, and fields whose value
// does not fit the declared type are reported as FieldErrors and skipped.
func Read(doc []byte, schema Schema) (Value, []FieldError, error) {
	lo, hi := 0, len(doc)
	for lo < hi && isSpace(doc[lo]) {
		lo++
	}
	for hi > lo && isSpace(doc[hi-1]) {
		hi--
	}
	if hi-lo < 2 || doc[lo] != '{' || doc[hi-1] != '}' {
		return Value{}, nil, &SyntaxError{Offset: lo, Err: ErrMalformedDocument}
	}
	if err := checkStructure(doc, lo, hi); err != nil {
		return Value{}, nil, err
	}
	r := &reader{src: doc}
	v := r.record(schema, lo, hi, "")
	return v, r.errs, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// skipString returns the index just past the closing quote of the string that
// opens at s[i], or -1. A backslash always consumes the byte after it.
func skipString(s []byte, i, hi int) int {
	for j := i + 1; j < hi; j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return -1
}

func checkStructure(s []byte, lo, hi int) error {
	var (
		want  []byte
		opens []int
	)
	for i := lo; i < hi; i++ {
		switch c := s[i]; c {
		case '"':
			end := skipString(s, i, hi)
			if end < 0 {
				return &SyntaxError{Offset: i, Err: ErrUnterminatedString}
			}
			i = end - 1
		case '{':
			want = append(want, '}')
			opens = append(opens, i)
		case '[':
			want = append(want, ']')
			opens = append(opens, i)
		case '}', ']':
			if len(want) == 0 || want[len(want)-1] != c {
				return &SyntaxError{Offset: i, Err: ErrUnbalancedBrackets}
			}
			want = want[:len(want)-1]
			opens = opens[:len(opens)-1]
			if len(want) == 0 && i != hi-1 {
				// the top-level object closed early: `{...} ... }`
				return &SyntaxError{Offset: i + 1, Err: ErrMalformedDocument}
			}
		}
	}
	if len(want) > 0 {
		return &SyntaxError{Offset: opens[len(opens)-1], Err: ErrUnbalancedBrackets}
	}
	return nil
}

// valueEnd returns the end of the value starting at s[start], stopping at limit.
// Only called after checkStructure succeeded.
func valueEnd(s []byte, start, limit int) int {
	if start >= limit {
		return start
	}
	switch s[start] {
	case '"':
		if end := skipString(s, start, limit); end >= 0 {
			return end
		}
		return limit
	case '{', '[':
		depth := 0
		for i := start; i < limit; i++ {
			switch s[i] {
			case '"':
				end := skipString(s, i, limit)
				if end < 0 {
					return limit
				}
				i = end - 1
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return i + 1
				}
			}
		}
		return limit
	default:
		i := start
		for i < limit {
			c := s[i]
			if c == ',' || c == '}' || c == ']' || isSpace(c) {
				break
			}
			i++
		}
		return i
	}
}

type reader struct {
	src  []byte
	errs []FieldError
}

func (r *reader) fail(path string, at int, format string, args ...any) {
	r.errs = append(r.errs, FieldError{
		Path:   path,
		Offset: at,
		Err:    fmt.Errorf("%w: %s", ErrFieldParse, fmt.Sprintf(format, args...)),
	})
}

// keys maps each key found directly inside the object s[lo:hi] to the offset
// of its value. A key is a string followed by at most one space and a colon;
// the first occurrence wins.
func (r *reader) keys(lo, hi int) map[string]int {
	s := r.src
	out := map[string]int{}
	depth := 0
	for i := lo + 1; i < hi-1; i++ {
		switch s[i] {
		case '"':
			end := skipString(s, i, hi-1)
			if end < 0 {
				return out
			}
			if depth == 0 {
				j := end
				if j < hi-1 && s[j] == ' ' {
					j++
				}
				if j < hi-1 && s[j] == ':' {
					k := j + 1
					for k < hi-1 && isSpace(s[k]) {
						k++
					}
					key := unescape(s[i+1 : end-1])
					if _, dup := out[key]; !dup {
						out[key] = k
					}
				}
			}
			i = end - 1
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return out
}

func (r *reader) record(schema Schema, lo, hi int, path string) Value {
	found := r.keys(lo, hi)
	members := make([]Member, 0, len(schema))
	for _, f := range schema {
		at, ok := found[f.Name]
		if !ok {
			continue
		}
		end := valueEnd(r.src, at, hi-1)
		if v, ok := r.value(f.Type, at, end, joinPath(path, f.Name)); ok {
			members = append(members, Member{Name: f.Name, Value: v})
		}
	}
	return Value{kind: KindRecord, members: members}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func (r *reader) value(t Type, lo, hi int, path string) (Value, bool) {
	lit := r.src[lo:hi]
	if len(lit) == 0 {
		r.fail(path, lo, "missing value")
		return Value{}, false
	}
	if string(lit) == "null" {
		return Value{}, false
	}
	switch t.Kind {
	case KindBool:
		switch string(lit) {
		case "true":
			return Bool(true), true
		case "false":
			return Bool(false), true
		}
		r.fail(path, lo, "want true or false, got %q", lit)
	case KindNumber:
		v, err := parseNumber(t, string(lit))
		if err != nil {
			r.fail(path, lo, "%v", err)
			return Value{}, false
		}
		return v, true
	case KindString:
		if lit[0] != '"' || len(lit) < 2 {
			r.fail(path, lo, "want string, got %q", clip(lit))
			return Value{}, false
		}
		return Str(unescape(lit[1 : len(lit)-1])), true
	case KindVector:
		if lit[0] != '{' {
			r.fail(path, lo, "want vector, got %q", clip(lit))
			return Value{}, false
		}
		rec := r.record(vectorSchema, lo, hi, path)
		v := Value{kind: KindVector, vec: [3]string{"0", "0", "0"}}
		for i, f := range vectorSchema {
			if c, ok := rec.Field(f.Name); ok {
				v.vec[i] = c.text
			}
		}
		return v, true
	case KindArray:
		if lit[0] != '[' {
			r.fail(path, lo, "want array, got %q", clip(lit))
			return Value{}, false
		}
		return r.array(t, lo, hi, path), true
	case KindRecord:
		if lit[0] != '{' {
			r.fail(path, lo, "want record, got %q", clip(lit))
			return Value{}, false
		}
		return r.record(t.Fields, lo, hi, path), true
	default:
		r.fail(path, lo, "unsupported type %v", t.Kind)
	}
	return Value{}, false
}

func (r *reader) array(t Type, lo, hi int, path string) Value {
	s := r.src
	elem := Type{Kind: KindNull}
	if t.Elem != nil {
		elem = *t.Elem
	}
	out := Value{kind: KindArray, elems: []Value{}}
	i := lo + 1
	limit := hi - 1
	for i < limit && isSpace(s[i]) {
		i++
	}
	if i == limit {
		return out
	}
	for n := 0; ; n++ {
		for i < limit && isSpace(s[i]) {
			i++
		}
		end := valueEnd(s, i, limit)
		if v, ok := r.value(elem, i, end, fmt.Sprintf("%s[%d]", path, n)); ok {
			out.elems = append(out.elems, v)
		}
		i = end
		for i < limit && isSpace(s[i]) {
			i++
		}
		if i < limit && s[i] == ',' {
			i++
			continue
		}
		break
	}
	if i < limit {
		r.fail(path, i, "unexpected %q after element", clip(s[i:limit]))
	}
	return out
}

func parseNumber(t Type, lit string) (Value, error) {
	if !validNumber(lit) {
		return Value{}, fmt.Errorf("want number, got %q", clipString(lit))
	}
	bits := t.bits()
	switch t.Num {
	case NumInt:
		n, err := strconv.ParseInt(lit, 10, bits)
		if err != nil {
			f, ferr := strconv.ParseFloat(lit, 64)
			if ferr != nil || f != math.Trunc(f) || f < -math.Ldexp(1, bits-1) || f >= math.Ldexp(1, bits-1) {
				return Value{}, fmt.Errorf("want %d-bit integer, got %q", bits, lit)
			}
			n = int64(f)
		}
		return Int(n), nil
	case NumUint:
		n, err := strconv.ParseUint(lit, 10, bits)
		if err != nil {
			f, ferr := strconv.ParseFloat(lit, 64)
			if ferr != nil || f != math.Trunc(f) || f < 0 || f >= math.Ldexp(1, bits) {
				return Value{}, fmt.Errorf("want unsigned %d-bit integer, got %q", bits, lit)
			}
			n = uint64(f)
		}
		return Uint(n), nil
	default:
		f, err := strconv.ParseFloat(lit, bits)
		if err != nil {
			return Value{}, fmt.Errorf("want %d-bit float, got %q", bits, lit)
		}
		return Float(f, bits), nil
	}
}

// validNumber accepts -?digits(.digits)?([eE][+-]?digits)?. strconv alone
// would also let through hex, underscores, "Inf" and "NaN".
func validNumber(s string) bool {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := func() int {
		n := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			n++
		}
		return n
	}
	if digits() == 0 {
		return false
	}
	if i < len(s) && s[i] == '.' {
		i++
		if digits() == 0 {
			return false
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		if digits() == 0 {
			return false
		}
	}
	return i == len(s)
}

// unescape decodes \" and \\. Any other backslash pair is kept as written.
func unescape(b []byte) string {
	var out []byte
	for i := 0; i < len(b); i++ {
		if b[i] == '\\' && i+1 < len(b) && (b[i+1] == '"' || b[i+1] == '\\') {
			if out == nil {
				out = make([]byte, 0, len(b))
				out = append(out, b[:i]...)
			}
			out = append(out, b[i+1])
			i++
			continue
		}
		if out != nil {
			out = append(out, b[i])
		}
	}
	if out == nil {
		return string(b)
	}
	return string(out)
}

func clip(b []byte) string { return clipString(string(b)) }

func clipString(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
