// Package codec is the text format used for build saves: a small JSON-shaped
// value algebra with a hand-written writer and a schema-driven reader.
package codec

import (
	"math"
	"strconv"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindVector
	KindArray
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindVector:
		return "vector"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable node. Numbers keep their decimal text so integers of
// any width and float32 values survive a write without a float64 detour.
type Value struct {
	kind    Kind
	b       bool
	text    string
	vec     [3]string
	elems   []Value
	members []Member
}

type Member struct {
	Name  string
	Value Value
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Int(n int64) Value { return Value{kind: KindNumber, text: strconv.FormatInt(n, 10)} }

func Uint(n uint64) Value { return Value{kind: KindNumber, text: strconv.FormatUint(n, 10)} }

// Float renders f as plain decimal with the fewest digits that round-trip at
// the given bit size. NaN and infinities are written as 0.
func Float(f float64, bits int) Value {
	return Value{kind: KindNumber, text: formatFloat(f, bits)}
}

func Str(s string) Value { return Value{kind: KindString, text: s} }

func Vec(x, y, z float32) Value {
	return Value{kind: KindVector, vec: [3]string{
		formatFloat(float64(x), 32),
		formatFloat(float64(y), 32),
		formatFloat(float64(z), 32),
	}}
}

func List(elems ...Value) Value { return Value{kind: KindArray, elems: elems} }

func Obj(members ...Member) Value { return Value{kind: KindRecord, members: members} }

// M is shorthand for a record member.
func M(name string, v Value) Member { return Member{Name: name, Value: v} }

func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	if bits != 32 {
		bits = 64
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Bool() bool     { return v.b }
func (v Value) Text() string   { return v.text }
func (v Value) Elems() []Value { return v.elems }

func (v Value) Members() []Member { return v.members }

// Field returns the named member of a record value.
func (v Value) Field(name string) (Value, bool) {
	for _, m := range v.members {
		if m.Name == name {
			return m.Value, true
		}
	}
	return Value{}, false
}

func (v Value) Int64() int64 {
	if n, err := strconv.ParseInt(v.text, 10, 64); err == nil {
		return n
	}
	f, _ := strconv.ParseFloat(v.text, 64)
	return int64(f)
}

func (v Value) Uint64() uint64 {
	if n, err := strconv.ParseUint(v.text, 10, 64); err == nil {
		return n
	}
	f, _ := strconv.ParseFloat(v.text, 64)
	if f < 0 {
		return 0
	}
	return uint64(f)
}

func (v Value) Float64() float64 {
	f, _ := strconv.ParseFloat(v.text, 64)
	return f
}

func (v Value) Float32() float32 {
	f, _ := strconv.ParseFloat(v.text, 32)
	return float32(f)
}

// Vector3 returns the components of a vector value.
func (v Value) Vector3() (x, y, z float32) {
	parse := func(s string) float32 {
		f, _ := strconv.ParseFloat(s, 32)
		return float32(f)
	}
	return parse(v.vec[0]), parse(v.vec[1]), parse(v.vec[2])
}
