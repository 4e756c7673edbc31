// Package worldtest drives a world through its exported API for tests that
// live outside the world package.
package worldtest

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"hophop.gg/internal/sim/catalogs"
	"hophop.gg/internal/sim/world"
)

// ConfigDir is the repository's configs directory.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "configs")
}

func LoadCatalogs(t testing.TB) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load(ConfigDir())
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

type Harness struct {
	T    testing.TB
	Cats *catalogs.Catalogs
	W    *world.World

	running bool
}

// NewHarness builds a world ticking at 200Hz. It is not running until Start.
func NewHarness(t testing.TB, id string) *Harness {
	t.Helper()
	cats := LoadCatalogs(t)
	w, err := world.New(world.WorldConfig{ID: id, TickRateHz: 200}, cats)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return &Harness{T: t, Cats: cats, W: w}
}

// Start runs the world loop until the test ends.
func (h *Harness) Start() *Harness {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.W.Run(ctx)
		close(done)
	}()
	h.running = true
	h.T.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// Do runs fn on the world loop, or inline when the loop is not running.
func (h *Harness) Do(fn func(w *world.World)) {
	h.T.Helper()
	if !h.running {
		fn(h.W)
		return
	}
	if err := h.W.Do(context.Background(), fn); err != nil {
		h.T.Fatalf("world.Do: %v", err)
	}
}

// Place spawns prefab at pos, yawed 90 degrees, with the given grade and
// health.
func (h *Harness) Place(prefab string, pos mgl64.Vec3, g catalogs.Grade, health float32) world.EntityID {
	h.T.Helper()
	var id world.EntityID
	h.Do(func(w *world.World) {
		e, err := w.CreateEntity(prefab, pos, mgl64.Vec3{0, 90, 0})
		if err != nil {
			h.T.Errorf("create %s: %v", prefab, err)
			return
		}
		if err := e.Spawn(); err != nil {
			h.T.Errorf("spawn %s: %v", prefab, err)
			return
		}
		e.SetGrade(g)
		e.SetHealth(health)
		id = e.ID()
	})
	return id
}

// PlaceRow spawns n full-health prefabs three metres apart along x.
func (h *Harness) PlaceRow(prefab string, n int) []world.EntityID {
	h.T.Helper()
	ids := make([]world.EntityID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, h.Place(prefab, mgl64.Vec3{float64(i) * 3, 0, 0}, catalogs.Twigs, 1e9))
	}
	return ids
}

// BlockState is a comparable view of one building block.
type BlockState struct {
	Prefab string
	Pos    [3]float32
	Grade  catalogs.Grade
	Health float32
	Colour uint32
	Items  int
}

// Buildings returns every live building block sorted by position, so entity
// ids do not matter when comparing worlds.
func (h *Harness) Buildings() []BlockState {
	h.T.Helper()
	var out []BlockState
	h.Do(func(w *world.World) {
		for _, e := range w.BuildingBlocks() {
			p := e.Position()
			st := BlockState{
				Prefab: e.PrefabName(),
				Pos:    [3]float32{float32(p.X()), float32(p.Y()), float32(p.Z())},
				Grade:  e.Grade(),
				Health: e.Health(),
				Colour: e.CustomColour(),
			}
			if inv, ok := e.Inventory(); ok {
				st.Items = len(inv.Items())
			}
			out = append(out, st)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Pos, out[j].Pos
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})
	return out
}
