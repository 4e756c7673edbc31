package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"hophop.gg/internal/persistence/snapshot"
	"hophop.gg/internal/sim/catalogs"
)

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	if w == nil || w.admin == nil {
		return 0, errors.New("admin snapshot not available")
	}
	resp := make(chan adminSnapshotResp, 1)
	req := adminSnapshotReq{Resp: resp}

	select {
	case w.admin <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if w == nil || len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	if w.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case w.snapshotSink <- w.ExportSnapshot(snapTick):
		default:
			errStr = "snapshot sink backpressure"
		}
	}

	resp := adminSnapshotResp{Tick: snapTick, Err: errStr}
	for _, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the sim loop.
		}
	}
}

// ExportSnapshot captures every live entity. Loop goroutine only.
func (w *World) ExportSnapshot(tick uint64) snapshot.WorldV1 {
	ents := w.Entities()
	out := snapshot.WorldV1{
		Header: snapshot.Header{
			Version:       1,
			WorldID:       w.cfg.ID,
			Tick:          tick,
			PrefabsDigest: w.catalogs.Prefabs.Digest,
			ItemsDigest:   w.catalogs.Items.Digest,
		},
		NextEntityID:   w.nextEntity,
		NextBuildingID: w.nextBuilding,
		Entities:       make([]snapshot.EntityV1, 0, len(ents)),
	}
	for _, e := range ents {
		ev := snapshot.EntityV1{
			ID:       uint64(e.id),
			Prefab:   e.def.ID,
			Pos:      [3]float64(e.pos),
			Euler:    [3]float64(e.euler),
			Skin:     e.skin,
			Owner:    e.owner,
			Grade:    int32(e.grade),
			Health:   e.health,
			Colour:   e.colour,
			Building: e.building,
		}
		if e.parent != nil {
			ev.Parent = uint64(e.parent.id)
		}
		if e.inv != nil {
			for _, it := range e.inv.Items() {
				ev.Items = append(ev.Items, snapshot.ItemV1{
					ID:           it.ID,
					Amount:       it.Amount,
					Skin:         it.Skin,
					Slot:         it.Position,
					Condition:    it.condition,
					MaxCondition: it.maxCondition,
				})
			}
		}
		out.Entities = append(out.Entities, ev)
	}
	return out
}

// ImportSnapshot replaces the world contents with snap. It must run before
// Run starts or from a job.
func (w *World) ImportSnapshot(snap snapshot.WorldV1) error {
	if snap.Header.Version != 1 {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world %q does not match %q", snap.Header.WorldID, w.cfg.ID)
	}

	entities := make(map[EntityID]*Entity, len(snap.Entities))
	for _, ev := range snap.Entities {
		def, ok := w.catalogs.Prefabs.Defs[ev.Prefab]
		if !ok {
			return fmt.Errorf("entity %d: %w: %s", ev.ID, ErrUnknownPrefab, ev.Prefab)
		}
		id := EntityID(ev.ID)
		if _, dup := entities[id]; dup || id == 0 {
			return fmt.Errorf("entity %d: duplicate or zero id", ev.ID)
		}
		e := &Entity{
			w:        w,
			id:       id,
			def:      def,
			skin:     ev.Skin,
			owner:    ev.Owner,
			colour:   ev.Colour,
			building: ev.Building,
			spawned:  true,
		}
		e.SetTransform(mgl64.Vec3(ev.Pos), mgl64.Vec3(ev.Euler))
		if g := catalogs.Grade(ev.Grade); def.IsBuildingBlock() && g.Valid() {
			e.grade = g
		}
		e.SetHealth(ev.Health)
		if def.Capacity > 0 {
			e.inv = newContainer(def.Capacity)
			for _, iv := range ev.Items {
				idef, ok := w.catalogs.Items.Defs[iv.ID]
				if !ok {
					continue
				}
				it := &Item{ID: iv.ID, Amount: iv.Amount, Skin: iv.Skin, Position: iv.Slot, def: idef, maxCondition: idef.MaxCondition}
				it.SetMaxCondition(iv.MaxCondition)
				it.SetCondition(iv.Condition)
				e.inv.Insert(it)
			}
		}
		entities[id] = e
	}
	for _, ev := range snap.Entities {
		if ev.Parent == 0 {
			continue
		}
		p, ok := entities[EntityID(ev.Parent)]
		if !ok {
			return fmt.Errorf("entity %d: missing parent %d", ev.ID, ev.Parent)
		}
		entities[EntityID(ev.ID)].SetParent(p)
	}

	w.entities = entities
	w.nextEntity = snap.NextEntityID
	w.nextBuilding = snap.NextBuildingID
	for id := range entities {
		if uint64(id) > w.nextEntity {
			w.nextEntity = uint64(id)
		}
	}
	w.tick.Store(snap.Header.Tick + 1)
	w.publishMetrics(0)
	return nil
}
