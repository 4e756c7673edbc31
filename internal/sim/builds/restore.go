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

type RestoreOptions struct {
	// Owner is used for records whose owner id is missing or zero.
	Owner uint64

	// InventoryAttemptFactor bounds slot probing per item to factor × capacity.
	InventoryAttemptFactor int

	// OnCleared runs after the world was cleared and before the first record
	// is created.
	OnCleared func(cleared int)
}

type RestoreStats struct {
	Cleared      int
	Created      int
	Failed       int
	ItemsPlaced  int
	ItemsDropped int
	Errors       []error
}

// ClearBuildings kills every live building block and returns how many it
// removed.
func ClearBuildings(w *world.World) int {
	n := 0
	for _, e := range w.BuildingBlocks() {
		if e.IsValid() && !e.IsDestroyed() {
			e.Kill()
			n++
		}
	}
	return n
}

// Restore replaces every building in w with the records of snap, in order.
// It must run on the world loop. Records that fail are skipped and counted.
func Restore(w *world.World, snap buildsave.Snapshot, opts RestoreOptions) ([]*world.Entity, RestoreStats) {
	var st RestoreStats
	st.Cleared = ClearBuildings(w)
	if opts.OnCleared != nil {
		opts.OnCleared(st.Cleared)
	}

	buildingID := w.NewBuildingID()
	created := make([]*world.Entity, 0, len(snap.Entities))
	for i := range snap.Entities {
		e, err := restoreOne(w, &snap.Entities[i], buildingID, opts, &st)
		if err != nil {
			st.Failed++
			st.Errors = append(st.Errors, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		created = append(created, e)
	}
	st.Created = len(created)
	return created, st
}

func restoreOne(w *world.World, rec *buildsave.EntityRecord, buildingID uint32, opts RestoreOptions, st *RestoreStats) (e *world.Entity, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e != nil {
				e.Kill()
			}
			e = nil
			err = fmt.Errorf("%w: %s: %v", ErrEntityCreation, rec.PrefabName, r)
		}
	}()

	// Load only clears building blocks, so it only creates them.
	if def, ok := w.Catalogs().Prefabs.Defs[rec.PrefabName]; ok && !def.IsBuildingBlock() {
		return nil, fmt.Errorf("%w: %s: %w", ErrEntityCreation, rec.PrefabName, ErrNotBuildingBlock)
	}

	pos := mgl64.Vec3{float64(rec.Position.X), float64(rec.Position.Y), float64(rec.Position.Z)}
	euler := mgl64.Vec3{float64(rec.Rotation.X), float64(rec.Rotation.Y), float64(rec.Rotation.Z)}
	e, err = w.CreateEntity(rec.PrefabName, pos, euler)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEntityCreation, err)
	}

	e.SetSkinID(parseID(rec.SkinID))
	owner := parseID(rec.OwnerID)
	if owner == 0 {
		owner = opts.Owner
	}
	e.SetOwnerID(owner)

	ratio := healthRatio(rec.Health, rec.MaxHealth)
	e.SetGrade(catalogs.Twigs)
	e.SetHealthToMax()
	e.AttachToBuilding(buildingID)

	if err := e.Spawn(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEntityCreation, err)
	}

	if rec.Grade != catalogs.Twigs {
		e.SetGrade(rec.Grade)
	}
	e.SetHealth(ratio * e.MaxHealth())
	if rec.CustomColour != 0 {
		e.SetCustomColour(rec.CustomColour)
	}
	e.SendNetworkUpdate()

	if inv, ok := e.Inventory(); ok && len(rec.Inventory) > 0 {
		placed, dropped := restoreInventory(w, inv, rec.Inventory, opts.InventoryAttemptFactor)
		st.ItemsPlaced += placed
		st.ItemsDropped += dropped
	}
	return e, nil
}

// healthRatio is health/max clamped to [0, 1]. Without a usable max, or with
// an unreadable health, the block comes back at full health.
func healthRatio(health, maxHealth float32) float32 {
	if !(maxHealth > 0) || math.IsInf(float64(maxHealth), 0) || math.IsNaN(float64(health)) {
		return 1
	}
	r := health / maxHealth
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

func restoreInventory(w *world.World, inv *world.Container, items []buildsave.ItemRecord, factor int) (placed, dropped int) {
	inv.Clear()
	if factor <= 0 {
		factor = 1
	}
	limit := factor * inv.Capacity()
	for _, rec := range items {
		it, err := w.CreateItem(rec.ItemID, rec.Amount, parseID(rec.SkinID))
		if err != nil {
			dropped++
			continue
		}
		if it.HasCondition() {
			it.SetMaxCondition(rec.MaxCondition)
			it.SetCondition(rec.Condition)
		}
		it.Position = rec.Position

		ok := false
		for attempt := 0; attempt < limit; attempt++ {
			if inv.Insert(it) {
				ok = true
				break
			}
			next := inv.NextFreeSlot(int(it.Position) + 1)
			if next < 0 {
				break
			}
			it.Position = int32(next)
		}
		if ok {
			placed++
		} else {
			dropped++
		}
	}
	return placed, dropped
}

func parseID(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
