package codec

type NumKind uint8

const (
	NumFloat NumKind = iota
	NumInt
	NumUint
)

// Type describes the shape the reader binds a value to.
type Type struct {
	Kind Kind
	Num  NumKind
	Bits int

	Elem   *Type
	Fields Schema
}

// Field is one declared member of a record shape.
type Field struct {
	Name string
	Type Type
}

// Schema is the ordered field list of a record. The writer side of a record
// type should emit members in the same order.
type Schema []Field

var (
	BoolType   = Type{Kind: KindBool}
	StringType = Type{Kind: KindString}
	VectorType = Type{Kind: KindVector, Bits: 32}
)

func IntType(bits int) Type   { return Type{Kind: KindNumber, Num: NumInt, Bits: bits} }
func UintType(bits int) Type  { return Type{Kind: KindNumber, Num: NumUint, Bits: bits} }
func FloatType(bits int) Type { return Type{Kind: KindNumber, Num: NumFloat, Bits: bits} }

func ArrayType(elem Type) Type { return Type{Kind: KindArray, Elem: &elem} }

func RecordType(fields Schema) Type { return Type{Kind: KindRecord, Fields: fields} }

var vectorSchema = Schema{
	{Name: "x", Type: FloatType(32)},
	{Name: "y", Type: FloatType(32)},
	{Name: "z", Type: FloatType(32)},
}

func (t Type) bits() int {
	if t.Bits <= 0 || t.Bits > 64 {
		return 64
	}
	return t.Bits
}
