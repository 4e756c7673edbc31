package world

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"hophop.gg/internal/sim/catalogs"
)

type EntityID uint64

var (
	ErrAlreadySpawned = errors.New("entity already spawned")
	ErrDestroyed      = errors.New("entity destroyed")
)

// Entity is a placed prefab. All methods must be called on the world loop
// goroutine.
type Entity struct {
	w   *World
	id  EntityID
	def catalogs.PrefabDef

	pos   mgl64.Vec3
	euler mgl64.Vec3 // degrees: pitch, yaw, roll
	rot   mgl64.Quat

	skin   uint64
	owner  uint64
	grade  catalogs.Grade
	health float32
	colour uint32

	building uint32
	parent   *Entity
	children []*Entity

	inv *Container

	spawned    bool
	destroyed  bool
	netVersion uint64
}

func (e *Entity) ID() EntityID            { return e.id }
func (e *Entity) PrefabName() string      { return e.def.ID }
func (e *Entity) Def() catalogs.PrefabDef { return e.def }
func (e *Entity) IsBuildingBlock() bool   { return e.def.IsBuildingBlock() }

// IsValid reports whether the entity is spawned and still alive.
func (e *Entity) IsValid() bool     { return e != nil && e.spawned && !e.destroyed }
func (e *Entity) IsDestroyed() bool { return e == nil || e.destroyed }
func (e *Entity) HasParent() bool   { return e.parent != nil }
func (e *Entity) Parent() *Entity   { return e.parent }

func (e *Entity) Position() mgl64.Vec3    { return e.pos }
func (e *Entity) EulerAngles() mgl64.Vec3 { return e.euler }
func (e *Entity) Rotation() mgl64.Quat    { return e.rot }

func (e *Entity) SetTransform(pos, euler mgl64.Vec3) {
	e.pos = pos
	e.euler = euler
	e.rot = eulerToQuat(euler)
}

func (e *Entity) SkinID() uint64     { return e.skin }
func (e *Entity) SetSkinID(v uint64) { e.skin = v }

func (e *Entity) OwnerID() uint64     { return e.owner }
func (e *Entity) SetOwnerID(v uint64) { e.owner = v }

func (e *Entity) Grade() catalogs.Grade { return e.grade }

// SetGrade changes the tier and clamps health to the new cap. Only building
// blocks carry a grade.
func (e *Entity) SetGrade(g catalogs.Grade) bool {
	if !e.IsBuildingBlock() || !g.Valid() {
		return false
	}
	e.grade = g
	if limit := e.MaxHealth(); e.health > limit {
		e.health = limit
	}
	return true
}

func (e *Entity) Health() float32    { return e.health }
func (e *Entity) MaxHealth() float32 { return e.def.MaxHealthFor(e.grade) }

func (e *Entity) SetHealth(h float32) {
	limit := e.MaxHealth()
	switch {
	case math.IsNaN(float64(h)) || h < 0:
		h = 0
	case h > limit:
		h = limit
	}
	e.health = h
}

func (e *Entity) SetHealthToMax() { e.health = e.MaxHealth() }

func (e *Entity) CustomColour() uint32     { return e.colour }
func (e *Entity) SetCustomColour(c uint32) { e.colour = c }

func (e *Entity) BuildingID() uint32            { return e.building }
func (e *Entity) AttachToBuilding(id uint32)    { e.building = id }
func (e *Entity) Inventory() (*Container, bool) { return e.inv, e.inv != nil }

// SetParent links e under p. Killing p kills e.
func (e *Entity) SetParent(p *Entity) {
	if e.parent == p || p == e {
		return
	}
	if e.parent != nil {
		e.parent.removeChild(e)
	}
	e.parent = p
	if p != nil {
		p.children = append(p.children, e)
	}
}

func (e *Entity) removeChild(c *Entity) {
	for i, x := range e.children {
		if x == c {
			e.children = append(e.children[:i], e.children[i+1:]...)
			return
		}
	}
}

// Spawn makes the entity live in the world.
func (e *Entity) Spawn() error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.spawned {
		return ErrAlreadySpawned
	}
	e.spawned = true
	e.w.entities[e.id] = e
	return nil
}

// Kill destroys the entity and everything parented to it. Killing twice is a
// no-op.
func (e *Entity) Kill() {
	if e == nil || e.destroyed {
		return
	}
	e.destroyed = true
	if e.spawned {
		delete(e.w.entities, e.id)
		e.w.killed++
	}
	children := e.children
	e.children = nil
	for _, c := range children {
		c.parent = nil
		c.Kill()
	}
	if e.parent != nil {
		e.parent.removeChild(e)
		e.parent = nil
	}
}

// SendNetworkUpdate marks the entity state as changed for observers.
func (e *Entity) SendNetworkUpdate() {
	e.netVersion++
	e.w.netUpdates++
}

func (e *Entity) NetVersion() uint64 { return e.netVersion }

func eulerToQuat(euler mgl64.Vec3) mgl64.Quat {
	return mgl64.AnglesToQuat(
		mgl64.DegToRad(euler.Y()),
		mgl64.DegToRad(euler.X()),
		mgl64.DegToRad(euler.Z()),
		mgl64.YXZ,
	)
}

func finiteVec(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
