package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"hophop.gg/internal/persistence/snapshot"
	"hophop.gg/internal/sim/catalogs"
)

var (
	ErrUnknownPrefab = errors.New("unknown prefab")
	ErrUnknownItem   = errors.New("unknown item")
	ErrBadTransform  = errors.New("non-finite transform")
	ErrStopped       = errors.New("world loop stopped")
	ErrJobPanic      = errors.New("world job panicked")
)

// World is a single-threaded authoritative store of placed entities.
// Entity state is only touched from the goroutine running Run (or the caller
// of StepOnce); other goroutines go through Do.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs

	tick atomic.Uint64

	entities     map[EntityID]*Entity
	nextEntity   uint64
	nextBuilding uint32

	// Counters owned by the loop goroutine, published through metrics.
	killed     uint64
	netUpdates uint64
	jobsRun    uint64

	jobs    chan job
	admin   chan adminSnapshotReq
	stop    chan struct{}
	stopped chan struct{}

	snapshotSink chan<- snapshot.WorldV1

	metrics atomic.Value // WorldMetrics
}

type job struct {
	fn   func(*World)
	done chan error
}

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	if cats == nil {
		return nil, errors.New("world: nil catalogs")
	}
	cfg.applyDefaults()
	w := &World{
		cfg:      cfg,
		catalogs: cats,
		entities: map[EntityID]*Entity{},
		jobs:     make(chan job, cfg.JobQueue),
		admin:    make(chan adminSnapshotReq, 16),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	w.publishMetrics(0)
	return w, nil
}

func (w *World) SetSnapshotSink(ch chan<- snapshot.WorldV1) { w.snapshotSink = ch }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) Catalogs() *catalogs.Catalogs { return w.catalogs }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Run(ctx context.Context) error {
	defer close(w.stopped)

	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJobs []job
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case j := <-w.jobs:
			pendingJobs = append(pendingJobs, j)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case <-ticker.C:
			w.step(pendingJobs)
			w.handleAdminSnapshotRequests(pendingAdmin)
			pendingJobs = pendingJobs[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce runs every queued job and advances one tick on the calling
// goroutine. It is meant for tests and tools that do not start Run.
func (w *World) StepOnce() uint64 {
	var pending []job
drain:
	for {
		select {
		case j := <-w.jobs:
			pending = append(pending, j)
		default:
			break drain
		}
	}
	tick := w.tick.Load()
	w.step(pending)
	return tick
}

func (w *World) step(jobs []job) {
	start := time.Now()
	for _, j := range jobs {
		w.runJob(j)
	}
	tick := w.tick.Add(1) - 1

	if every := uint64(w.cfg.SnapshotEveryTicks); every > 0 && w.snapshotSink != nil && tick > 0 && tick%every == 0 {
		select {
		case w.snapshotSink <- w.ExportSnapshot(tick):
		default:
		}
	}
	w.publishMetrics(time.Since(start))
}

func (w *World) runJob(j job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrJobPanic, r)
			}
		}()
		j.fn(w)
	}()
	w.jobsRun++
	j.done <- err
}

// Do runs fn on the world loop at the next tick boundary and waits for it.
// Cancelling ctx only helps while the job is still queued for submission; a
// submitted job always runs to completion. fn must not call Do.
func (w *World) Do(ctx context.Context, fn func(*World)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return ErrStopped
	}
	select {
	case err := <-j.done:
		return err
	case <-w.stopped:
		select {
		case err := <-j.done:
			return err
		default:
			return ErrStopped
		}
	}
}

// CreateEntity allocates an unspawned entity of prefab at an absolute
// position with Euler rotation in degrees.
func (w *World) CreateEntity(prefab string, pos, euler mgl64.Vec3) (*Entity, error) {
	def, ok := w.catalogs.Prefabs.Defs[prefab]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrefab, prefab)
	}
	if !finiteVec(pos) || !finiteVec(euler) {
		return nil, fmt.Errorf("%w: %s at %v", ErrBadTransform, prefab, pos)
	}
	w.nextEntity++
	e := &Entity{
		w:   w,
		id:  EntityID(w.nextEntity),
		def: def,
	}
	e.SetTransform(pos, euler)
	e.health = def.MaxHealthFor(catalogs.Twigs)
	if def.Capacity > 0 {
		e.inv = newContainer(def.Capacity)
	}
	return e, nil
}

// NewBuildingID allocates a fresh building group id. Zero is never returned.
func (w *World) NewBuildingID() uint32 {
	w.nextBuilding++
	if w.nextBuilding == 0 {
		w.nextBuilding = 1
	}
	return w.nextBuilding
}

// CreateItem makes a loose item that is not in any container yet.
func (w *World) CreateItem(id int32, amount int32, skin uint64) (*Item, error) {
	def, ok := w.catalogs.Items.Defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownItem, id)
	}
	if amount < 1 {
		return nil, fmt.Errorf("item %d: amount %d", id, amount)
	}
	return &Item{
		ID:           id,
		Amount:       amount,
		Skin:         skin,
		Position:     -1,
		def:          def,
		condition:    def.MaxCondition,
		maxCondition: def.MaxCondition,
	}, nil
}

func (w *World) Entity(id EntityID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Entities returns every live entity ordered by id.
func (w *World) Entities() []*Entity {
	out := make([]*Entity, 0, len(w.entities))
	for _, e := range w.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// BuildingBlocks returns the live building blocks ordered by id.
func (w *World) BuildingBlocks() []*Entity {
	all := w.Entities()
	out := all[:0]
	for _, e := range all {
		if e.IsBuildingBlock() {
			out = append(out, e)
		}
	}
	return out
}
