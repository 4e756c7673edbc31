package buildsave

import (
	"fmt"

	"hophop.gg/internal/persistence/codec"
	"hophop.gg/internal/sim/catalogs"
)

// Snapshot is one named build save. Positions in it are absolute world
// coordinates; SourcePosition and SourceRotation are kept for older readers
// and always written as zero.
type Snapshot struct {
	SaveName       string
	SourcePosition Vec3
	SourceRotation Vec3
	Entities       []EntityRecord
}

type EntityRecord struct {
	PrefabName   string
	Position     Vec3
	Rotation     Vec3 // Euler degrees
	SkinID       string
	OwnerID      string
	Grade        catalogs.Grade
	CustomColour uint32
	Health       float32
	MaxHealth    float32
	Inventory    []ItemRecord
}

type ItemRecord struct {
	ItemID       int32
	Amount       int32
	SkinID       string
	Position     int32
	Condition    float32
	MaxCondition float32
}

type Vec3 struct {
	X, Y, Z float32
}

var itemSchema = codec.Schema{
	{Name: "ItemId", Type: codec.IntType(32)},
	{Name: "Amount", Type: codec.IntType(32)},
	{Name: "SkinId", Type: codec.StringType},
	{Name: "Position", Type: codec.IntType(32)},
	{Name: "Condition", Type: codec.FloatType(32)},
	{Name: "MaxCondition", Type: codec.FloatType(32)},
}

var entitySchema = codec.Schema{
	{Name: "PrefabName", Type: codec.StringType},
	{Name: "Position", Type: codec.VectorType},
	{Name: "Rotation", Type: codec.VectorType},
	{Name: "SkinId", Type: codec.StringType},
	{Name: "OwnerId", Type: codec.StringType},
	{Name: "Grade", Type: codec.IntType(32)},
	{Name: "CustomColour", Type: codec.UintType(32)},
	{Name: "Health", Type: codec.FloatType(32)},
	{Name: "MaxHealth", Type: codec.FloatType(32)},
	{Name: "Inventory", Type: codec.ArrayType(codec.RecordType(itemSchema))},
}

var snapshotSchema = codec.Schema{
	{Name: "SaveName", Type: codec.StringType},
	{Name: "SourcePosition", Type: codec.VectorType},
	{Name: "SourceRotation", Type: codec.VectorType},
	{Name: "Entities", Type: codec.ArrayType(codec.RecordType(entitySchema))},
}

func (v Vec3) ToValue() codec.Value { return codec.Vec(v.X, v.Y, v.Z) }

func (v *Vec3) FromValue(val codec.Value) {
	v.X, v.Y, v.Z = val.Vector3()
}

func (it ItemRecord) ToValue() codec.Value {
	return codec.Obj(
		codec.M("ItemId", codec.Int(int64(it.ItemID))),
		codec.M("Amount", codec.Int(int64(it.Amount))),
		codec.M("SkinId", codec.Str(it.SkinID)),
		codec.M("Position", codec.Int(int64(it.Position))),
		codec.M("Condition", codec.Float(float64(it.Condition), 32)),
		codec.M("MaxCondition", codec.Float(float64(it.MaxCondition), 32)),
	)
}

func (it *ItemRecord) FromValue(val codec.Value) {
	for _, m := range val.Members() {
		switch m.Name {
		case "ItemId":
			it.ItemID = int32(m.Value.Int64())
		case "Amount":
			it.Amount = int32(m.Value.Int64())
		case "SkinId":
			it.SkinID = m.Value.Text()
		case "Position":
			it.Position = int32(m.Value.Int64())
		case "Condition":
			it.Condition = m.Value.Float32()
		case "MaxCondition":
			it.MaxCondition = m.Value.Float32()
		}
	}
}

func (e EntityRecord) ToValue() codec.Value {
	inv := make([]codec.Value, len(e.Inventory))
	for i, it := range e.Inventory {
		inv[i] = it.ToValue()
	}
	return codec.Obj(
		codec.M("PrefabName", codec.Str(e.PrefabName)),
		codec.M("Position", e.Position.ToValue()),
		codec.M("Rotation", e.Rotation.ToValue()),
		codec.M("SkinId", codec.Str(e.SkinID)),
		codec.M("OwnerId", codec.Str(e.OwnerID)),
		codec.M("Grade", codec.Int(int64(e.Grade))),
		codec.M("CustomColour", codec.Uint(uint64(e.CustomColour))),
		codec.M("Health", codec.Float(float64(e.Health), 32)),
		codec.M("MaxHealth", codec.Float(float64(e.MaxHealth), 32)),
		codec.M("Inventory", codec.List(inv...)),
	)
}

// FromValue fills e from a decoded record. An unknown grade ordinal is
// reported through errs and leaves the grade at Twigs.
func (e *EntityRecord) FromValue(val codec.Value, path string, errs *[]codec.FieldError) {
	for _, m := range val.Members() {
		switch m.Name {
		case "PrefabName":
			e.PrefabName = m.Value.Text()
		case "Position":
			e.Position.FromValue(m.Value)
		case "Rotation":
			e.Rotation.FromValue(m.Value)
		case "SkinId":
			e.SkinID = m.Value.Text()
		case "OwnerId":
			e.OwnerID = m.Value.Text()
		case "Grade":
			g, ok := catalogs.GradeFromOrdinal(m.Value.Int64())
			if !ok {
				*errs = append(*errs, codec.FieldError{
					Path: path + ".Grade",
					Err:  fmt.Errorf("%w: unknown grade ordinal %s", codec.ErrFieldParse, m.Value.Text()),
				})
			}
			e.Grade = g
		case "CustomColour":
			e.CustomColour = uint32(m.Value.Uint64())
		case "Health":
			e.Health = m.Value.Float32()
		case "MaxHealth":
			e.MaxHealth = m.Value.Float32()
		case "Inventory":
			elems := m.Value.Elems()
			e.Inventory = make([]ItemRecord, len(elems))
			for i, iv := range elems {
				e.Inventory[i].FromValue(iv)
			}
		}
	}
}

func (s Snapshot) ToValue() codec.Value {
	ents := make([]codec.Value, len(s.Entities))
	for i, e := range s.Entities {
		ents[i] = e.ToValue()
	}
	return codec.Obj(
		codec.M("SaveName", codec.Str(s.SaveName)),
		codec.M("SourcePosition", s.SourcePosition.ToValue()),
		codec.M("SourceRotation", s.SourceRotation.ToValue()),
		codec.M("Entities", codec.List(ents...)),
	)
}

func (s *Snapshot) FromValue(val codec.Value, errs *[]codec.FieldError) {
	for _, m := range val.Members() {
		switch m.Name {
		case "SaveName":
			s.SaveName = m.Value.Text()
		case "SourcePosition":
			s.SourcePosition.FromValue(m.Value)
		case "SourceRotation":
			s.SourceRotation.FromValue(m.Value)
		case "Entities":
			elems := m.Value.Elems()
			s.Entities = make([]EntityRecord, len(elems))
			for i, ev := range elems {
				s.Entities[i].FromValue(ev, fmt.Sprintf("Entities[%d]", i), errs)
			}
		}
	}
}

// Encode renders a snapshot document.
func Encode(s Snapshot) []byte {
	return codec.Write(s.ToValue())
}

// Decode parses a snapshot document. A non-nil error means the document as a
// whole is unusable; field errors describe values that were skipped.
func Decode(doc []byte) (Snapshot, []codec.FieldError, error) {
	val, ferrs, err := codec.Read(doc, snapshotSchema)
	if err != nil {
		return Snapshot{}, nil, err
	}
	var s Snapshot
	s.FromValue(val, &ferrs)
	if s.Entities == nil {
		s.Entities = []EntityRecord{}
	}
	return s, ferrs, nil
}
