package builds

import (
	"fmt"
	"math"
	"strconv"

	"github.com/go-gl/mathgl/mgl64"

	"hophop.gg/internal/persistence/buildsave"
	"hophop.gg/internal/sim/catalogs"
	"hophop.gg/internal/sim/world"
)

// Capturable is the read side of a live entity. *world.Entity implements it.
type Capturable interface {
	ID() world.EntityID
	IsValid() bool
	IsDestroyed() bool
	HasParent() bool
	IsBuildingBlock() bool
	PrefabName() string
	Position() mgl64.Vec3
	EulerAngles() mgl64.Vec3
	SkinID() uint64
	OwnerID() uint64
	Grade() catalogs.Grade
	CustomColour() uint32
	Health() float32
	MaxHealth() float32
	Inventory() (*world.Container, bool)
}

type CaptureOptions struct {
	// ProgressEvery calls Progress after that many scanned entities. Zero
	// disables progress callbacks.
	ProgressEvery int
	Progress      func(scanned, total int)
}

type CaptureStats struct {
	Scanned  int
	Captured int
	Skipped  int
	Errors   []error
}

// Capture walks ents and records every top-level building block. It never
// modifies an entity. Entities that cannot be read are skipped and counted.
func Capture(name string, ents []Capturable, opts CaptureOptions) (buildsave.Snapshot, CaptureStats) {
	snap := buildsave.Snapshot{SaveName: name, Entities: []buildsave.EntityRecord{}}
	var st CaptureStats
	seen := make(map[world.EntityID]struct{}, len(ents))

	for i, e := range ents {
		st.Scanned++
		if opts.ProgressEvery > 0 && opts.Progress != nil && (i+1)%opts.ProgressEvery == 0 {
			opts.Progress(i+1, len(ents))
		}
		rec, ok, err := captureOne(e, seen)
		if err != nil {
			st.Skipped++
			st.Errors = append(st.Errors, err)
			continue
		}
		if !ok {
			continue
		}
		snap.Entities = append(snap.Entities, rec)
		st.Captured++
	}
	return snap, st
}

func captureOne(e Capturable, seen map[world.EntityID]struct{}) (rec buildsave.EntityRecord, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("capture entity: %v", r)
		}
	}()
	if e == nil || !e.IsValid() || e.IsDestroyed() || e.HasParent() || !e.IsBuildingBlock() {
		return rec, false, nil
	}
	id := e.ID()
	if _, dup := seen[id]; dup {
		return rec, false, nil
	}

	pos, euler := e.Position(), e.EulerAngles()
	if !finite(pos) || !finite(euler) {
		return rec, false, fmt.Errorf("entity %d: non-finite transform", id)
	}
	seen[id] = struct{}{}

	rec = buildsave.EntityRecord{
		PrefabName:   e.PrefabName(),
		Position:     vec3(pos),
		Rotation:     vec3(mgl64.Vec3{wrapDegrees(euler.X()), wrapDegrees(euler.Y()), wrapDegrees(euler.Z())}),
		SkinID:       strconv.FormatUint(e.SkinID(), 10),
		OwnerID:      strconv.FormatUint(e.OwnerID(), 10),
		Grade:        e.Grade(),
		CustomColour: e.CustomColour(),
		Health:       e.Health(),
		MaxHealth:    e.MaxHealth(),
		Inventory:    []buildsave.ItemRecord{},
	}
	if inv, has := e.Inventory(); has {
		for _, it := range inv.Items() {
			rec.Inventory = append(rec.Inventory, buildsave.ItemRecord{
				ItemID:       it.ID,
				Amount:       it.Amount,
				SkinID:       strconv.FormatUint(it.Skin, 10),
				Position:     it.Position,
				Condition:    it.Condition(),
				MaxCondition: it.MaxCondition(),
			})
		}
	}
	return rec, true, nil
}

func finite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func vec3(v mgl64.Vec3) buildsave.Vec3 {
	return buildsave.Vec3{X: float32(v.X()), Y: float32(v.Y()), Z: float32(v.Z())}
}

// wrapDegrees maps an angle into [0, 360).
func wrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Entities adapts world entities for Capture.
func Entities(ents []*world.Entity) []Capturable {
	out := make([]Capturable, len(ents))
	for i, e := range ents {
		out[i] = e
	}
	return out
}
