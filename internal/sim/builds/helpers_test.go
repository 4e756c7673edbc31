package builds

import (
	"strings"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap/zaptest"

	"hophop.gg/internal/persistence/buildsave"
	"hophop.gg/internal/sim/catalogs"
	"hophop.gg/internal/sim/world"
	"hophop.gg/internal/sim/worldtest"
)

const (
	foundation = "assets/prefabs/building core/foundation/foundation.prefab"
	wall       = "assets/prefabs/building core/wall/wall.prefab"
	storage    = "assets/prefabs/building core/floor.storage/floor.storage.prefab"
	box        = "assets/prefabs/deployable/large wood storage/box.wooden.large.prefab"

	itemRifle = int32(1545779598)
	itemWood  = int32(-151838493)
)

type testEnv struct {
	*worldtest.Harness
	t     *testing.T
	w     *world.World
	store *buildsave.Store
	eng   *Engine
}

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	return worldtest.LoadCatalogs(t)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	h := worldtest.NewHarness(t, "test").Start()
	store := buildsave.NewStore(t.TempDir(), buildsave.StoreOptions{})
	return &testEnv{
		Harness: h,
		t:       t,
		w:       h.W,
		store:   store,
		eng:     NewEngine(h.W, store, zaptest.NewLogger(t), Options{}),
	}
}

func (e *testEnv) do(fn func(w *world.World)) { e.Do(fn) }

func (e *testEnv) place(prefab string, pos mgl64.Vec3, g catalogs.Grade, health float32) world.EntityID {
	e.t.Helper()
	return e.Place(prefab, pos, g, health)
}

func (e *testEnv) buildings() []worldtest.BlockState { return e.Buildings() }

type replies struct {
	mu    sync.Mutex
	lines []string
}

func (r *replies) add(s string) {
	r.mu.Lock()
	r.lines = append(r.lines, s)
	r.mu.Unlock()
}

func (r *replies) has(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

func (r *replies) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, " | ")
}
