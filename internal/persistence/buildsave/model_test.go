package buildsave

import (
	"errors"
	"math"
	"strings"
	"testing"

	"hophop.gg/internal/persistence/codec"
	"hophop.gg/internal/sim/catalogs"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		SaveName: "base one",
		Entities: []EntityRecord{
			{
				PrefabName:   "assets/prefabs/building core/foundation/foundation.prefab",
				Position:     Vec3{X: 101.25, Y: 3.5, Z: -2040.125},
				Rotation:     Vec3{X: 0, Y: 270.00003, Z: 0},
				SkinID:       "18446744073709551615",
				OwnerID:      "76561198000000001",
				Grade:        catalogs.Stone,
				CustomColour: 4294967295,
				Health:       333.33334,
				MaxHealth:    500,
				Inventory:    []ItemRecord{},
			},
			{
				PrefabName: "assets/prefabs/building core/floor.storage/floor.storage.prefab",
				Position:   Vec3{X: 1e-4, Y: -0.5, Z: 12345.678},
				Rotation:   Vec3{X: 359.9, Y: 90, Z: 0.001},
				SkinID:     "0",
				OwnerID:    "0",
				Grade:      catalogs.TopTier,
				Health:     1,
				MaxHealth:  2000,
				Inventory: []ItemRecord{
					{ItemID: 1545779598, Amount: 1, SkinID: "2080321237", Position: 0, Condition: 87.5, MaxCondition: 200},
					{ItemID: -151838493, Amount: 1000, SkinID: "0", Position: 11},
				},
			},
		},
	}
}

func near(a, b float32) bool { return math.Abs(float64(a-b)) <= 1e-5*math.Max(1, math.Abs(float64(b))) }

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := sampleSnapshot()
	out, ferrs, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ferrs) != 0 {
		t.Fatalf("field errors: %v", ferrs)
	}
	if out.SaveName != in.SaveName || len(out.Entities) != len(in.Entities) {
		t.Fatalf("header mismatch: %q/%d", out.SaveName, len(out.Entities))
	}
	for i := range in.Entities {
		a, b := in.Entities[i], out.Entities[i]
		if a.PrefabName != b.PrefabName || a.SkinID != b.SkinID || a.OwnerID != b.OwnerID ||
			a.Grade != b.Grade || a.CustomColour != b.CustomColour {
			t.Fatalf("entity %d scalar mismatch:\n in=%+v\nout=%+v", i, a, b)
		}
		for _, pair := range [][2]float32{
			{a.Position.X, b.Position.X}, {a.Position.Y, b.Position.Y}, {a.Position.Z, b.Position.Z},
			{a.Rotation.X, b.Rotation.X}, {a.Rotation.Y, b.Rotation.Y}, {a.Rotation.Z, b.Rotation.Z},
			{a.Health, b.Health}, {a.MaxHealth, b.MaxHealth},
		} {
			if !near(pair[0], pair[1]) {
				t.Fatalf("entity %d float mismatch: %v vs %v", i, pair[0], pair[1])
			}
		}
		if len(a.Inventory) != len(b.Inventory) {
			t.Fatalf("entity %d inventory len %d vs %d", i, len(a.Inventory), len(b.Inventory))
		}
		for j := range a.Inventory {
			x, y := a.Inventory[j], b.Inventory[j]
			if x.ItemID != y.ItemID || x.Amount != y.Amount || x.SkinID != y.SkinID || x.Position != y.Position ||
				!near(x.Condition, y.Condition) || !near(x.MaxCondition, y.MaxCondition) {
				t.Fatalf("item %d/%d mismatch: %+v vs %+v", i, j, x, y)
			}
		}
	}
}

func TestEncode_DocumentShape(t *testing.T) {
	doc := string(Encode(Snapshot{SaveName: "s", Entities: []EntityRecord{{PrefabName: "p", Grade: catalogs.Wood}}}))
	want := `{"SaveName":"s","SourcePosition":{"x":0,"y":0,"z":0},"SourceRotation":{"x":0,"y":0,"z":0},"Entities":[` +
		`{"PrefabName":"p","Position":{"x":0,"y":0,"z":0},"Rotation":{"x":0,"y":0,"z":0},"SkinId":"","OwnerId":"",` +
		`"Grade":1,"CustomColour":0,"Health":0,"MaxHealth":0,"Inventory":[]}]}`
	if doc != want {
		t.Fatalf("shape mismatch:\n got=%s\nwant=%s", doc, want)
	}
}

func TestDecode_EmptyEntities(t *testing.T) {
	out, ferrs, err := Decode(Encode(Snapshot{SaveName: "empty", Entities: []EntityRecord{}}))
	if err != nil || len(ferrs) != 0 {
		t.Fatalf("err=%v ferrs=%v", err, ferrs)
	}
	if out.Entities == nil || len(out.Entities) != 0 {
		t.Fatalf("entities=%v", out.Entities)
	}
}

func TestDecode_NameEscaping(t *testing.T) {
	name := `my "best" base \ v2`
	doc := Encode(Snapshot{SaveName: name})
	if !strings.Contains(string(doc), `"my \"best\" base \\ v2"`) {
		t.Fatalf("escaping: %s", doc)
	}
	out, _, err := Decode(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SaveName != name {
		t.Fatalf("name=%q want %q", out.SaveName, name)
	}
}

func TestDecode_UnknownGradeIsFieldError(t *testing.T) {
	doc := `{"SaveName":"x","Entities":[{"PrefabName":"p","Grade":9,"Health":5}]}`
	out, ferrs, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entities) != 1 || out.Entities[0].Grade != catalogs.Twigs || out.Entities[0].Health != 5 {
		t.Fatalf("entities=%+v", out.Entities)
	}
	if len(ferrs) != 1 || ferrs[0].Path != "Entities[0].Grade" || !errors.Is(ferrs[0], codec.ErrFieldParse) {
		t.Fatalf("ferrs=%v", ferrs)
	}
}

func TestDecode_ToleratesOlderDocuments(t *testing.T) {
	// no Source* fields, spaced keys, unknown extra field
	doc := `{ "SaveName" : "old", "Version": 1, "Entities": [ {"PrefabName": "p", "Position": {"x": 1, "y": 2, "z": 3}} ] }`
	out, ferrs, err := Decode([]byte(doc))
	if err != nil || len(ferrs) != 0 {
		t.Fatalf("err=%v ferrs=%v", err, ferrs)
	}
	if out.SaveName != "old" || len(out.Entities) != 1 || out.Entities[0].Position != (Vec3{1, 2, 3}) {
		t.Fatalf("out=%+v", out)
	}
}

func TestDecode_TruncatedDocumentFails(t *testing.T) {
	doc := Encode(sampleSnapshot())
	_, _, err := Decode(doc[:len(doc)-1])
	if !errors.Is(err, codec.ErrMalformedDocument) {
		t.Fatalf("err=%v want malformed", err)
	}
}
