package builds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hophop.gg/internal/persistence/buildsave"
	"hophop.gg/internal/protocol"
	"hophop.gg/internal/sim/session"
	"hophop.gg/internal/sim/world"
)

const msgBusy = "A save or load operation is already in progress. Please wait for it to complete."

// Actor is whoever issued a command.
type Actor struct {
	ID   string
	Name string
	// Owner is stamped on restored entities whose record carries no owner.
	Owner uint64
}

// Reply delivers one human readable line to the actor. It may be called from
// the world loop and must not block.
type Reply func(text string)

type Options struct {
	ProgressEvery          int
	InventoryAttemptFactor int
}

// Result summarises one finished operation.
type Result struct {
	OpID string
	Op   string
	Save string

	Count       int
	Cleared     int
	Skipped     int
	FieldErrors int
	Names       []string
}

// Engine runs save, load, delete, undo and list for actors. Entity work
// happens on the world loop; file I/O happens on the caller's goroutine.
type Engine struct {
	world    *world.World
	store    *buildsave.Store
	sessions *session.Table
	journal  Journal
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

func NewEngine(w *world.World, store *buildsave.Store, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.InventoryAttemptFactor <= 0 {
		opts.InventoryAttemptFactor = 2
	}
	return &Engine{
		world:    w,
		store:    store,
		sessions: session.NewTable(),
		journal:  nopJournal{},
		log:      log.Named("builds"),
		opts:     opts,
		now:      time.Now,
	}
}

func (e *Engine) SetJournal(j Journal) { e.journal = Journals(j) }

func (e *Engine) Sessions() *session.Table { return e.sessions }

func (e *Engine) Store() *buildsave.Store { return e.store }

// Disconnect forgets the actor's undo list without undoing anything.
func (e *Engine) Disconnect(actorID string) {
	e.sessions.Disconnect(actorID)
	e.log.Debug("actor disconnected", zap.String("actor", actorID))
}

func newOpID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func discard(string) {}

func (e *Engine) run(actor Actor, op, save string, reply Reply, fn func(*Result) error) (res Result, err error) {
	res = Result{OpID: newOpID(), Op: op, Save: save}
	started := e.now()
	log := e.log.With(zap.String("op_id", res.OpID), zap.String("op", op), zap.String("actor", actor.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("operation panicked", zap.String("save", res.Save), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrInternal, r)
			reply(failText(op, "internal error"))
		}
		took := e.now().Sub(started)
		rec := OpRecord{
			ID:          res.OpID,
			ActorID:     actor.ID,
			Op:          op,
			Save:        res.Save,
			OK:          err == nil,
			Code:        Code(err),
			Count:       res.Count,
			Cleared:     res.Cleared,
			Skipped:     res.Skipped,
			FieldErrors: res.FieldErrors,
			StartedAt:   started,
			Duration:    took,
		}
		if err != nil {
			rec.Err = err.Error()
		}
		e.journal.RecordOp(rec)

		fields := []zap.Field{zap.String("save", res.Save), zap.Int("count", res.Count), zap.Duration("took", took)}
		switch {
		case err == nil:
			log.Info("operation done", fields...)
		case rec.Code == protocol.ErrInternal:
			log.Error("operation failed", append(fields, zap.Error(err))...)
		default:
			log.Info("operation rejected", append(fields, zap.String("code", rec.Code), zap.Error(err))...)
		}
	}()

	err = fn(&res)
	return res, err
}

func failText(op, msg string) string {
	switch op {
	case "save":
		return "Error saving: " + msg
	case "load":
		return "Error loading save: " + msg
	}
	return "Error: " + msg
}

// jobFailed turns a world.Do error into a reply and a wrapped error.
func (e *Engine) jobFailed(op string, reply Reply, err error) error {
	if errors.Is(err, world.ErrJobPanic) {
		reply(failText(op, "internal error"))
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	reply("Operation cancelled.")
	return err
}

// Save captures every top-level building in the world into the named save.
func (e *Engine) Save(ctx context.Context, actor Actor, name string, reply Reply) (Result, error) {
	if reply == nil {
		reply = discard
	}
	return e.run(actor, "save", name, reply, func(res *Result) error {
		stem, err := buildsave.Sanitize(name)
		if err != nil {
			reply("Save name cannot be empty!")
			return err
		}
		res.Save = stem

		lease, ok := e.sessions.TryAcquire(actor.ID)
		if !ok {
			reply(msgBusy)
			return ErrOperationInProgress
		}
		defer lease.Release()

		reply("Collecting all buildings on the map... This may take a moment.")
		var snap buildsave.Snapshot
		var st CaptureStats
		err = e.world.Do(ctx, func(w *world.World) {
			snap, st = Capture(stem, Entities(w.Entities()), CaptureOptions{
				ProgressEvery: e.opts.ProgressEvery,
				Progress: func(scanned, total int) {
					reply(fmt.Sprintf("Scanned %d/%d entities...", scanned, total))
				},
			})
		})
		if err != nil {
			return e.jobFailed("save", reply, err)
		}
		for _, cerr := range st.Errors {
			e.log.Warn("entity skipped during capture", zap.String("save", stem), zap.Error(cerr))
		}
		res.Count = st.Captured
		res.Skipped = st.Skipped

		if _, err := e.store.Save(stem, snap); err != nil {
			reply(failText("save", err.Error()))
			return fmt.Errorf("write save %s: %w", stem, err)
		}
		reply(fmt.Sprintf("Successfully saved %d entities from the entire map as '%s'!", st.Captured, stem))
		if st.Skipped > 0 {
			reply(fmt.Sprintf("Skipped %d entities that could not be read.", st.Skipped))
		}
		return nil
	})
}

// Load replaces every building in the world with the named save. The save
// is read and parsed before anything in the world changes.
func (e *Engine) Load(ctx context.Context, actor Actor, name string, reply Reply) (Result, error) {
	if reply == nil {
		reply = discard
	}
	return e.run(actor, "load", name, reply, func(res *Result) error {
		stem, err := buildsave.Sanitize(name)
		if err != nil {
			reply(fmt.Sprintf("Save '%s' not found!", name))
			return err
		}
		res.Save = stem

		lease, ok := e.sessions.TryAcquire(actor.ID)
		if !ok {
			reply(msgBusy)
			return ErrOperationInProgress
		}
		defer lease.Release()

		raw, err := e.store.ReadRaw(stem)
		switch {
		case errors.Is(err, buildsave.ErrSnapshotNotFound):
			reply(fmt.Sprintf("Save '%s' not found!", stem))
			return err
		case errors.Is(err, buildsave.ErrSnapshotEmpty):
			reply(fmt.Sprintf("Save '%s' is empty!", stem))
			return err
		case err != nil:
			reply(failText("load", err.Error()))
			return err
		}

		snap, ferrs, err := buildsave.Decode(raw)
		if err != nil {
			e.log.Error("save document unreadable",
				zap.String("save", stem),
				zap.Int("bytes", len(raw)),
				zap.String("head", head(raw, 500)),
				zap.Error(err))
			reply(fmt.Sprintf("Save '%s' is corrupted! Check server console for details.", stem))
			return fmt.Errorf("save %s: %w", stem, err)
		}
		for _, fe := range ferrs {
			e.log.Warn("save field skipped", zap.String("save", stem), zap.String("path", fe.Path), zap.Error(fe))
		}
		res.FieldErrors = len(ferrs)
		if len(snap.Entities) == 0 {
			reply("Save file is empty or corrupted!")
			return fmt.Errorf("%w: %s has no entities", buildsave.ErrSnapshotEmpty, stem)
		}
		if err := ctx.Err(); err != nil {
			reply("Operation cancelled.")
			return err
		}

		reply("Deleting all existing buildings...")
		var st RestoreStats
		cancelled := false
		err = e.world.Do(ctx, func(w *world.World) {
			if ctx.Err() != nil {
				cancelled = true
				return
			}
			var created []*world.Entity
			created, st = Restore(w, snap, RestoreOptions{
				Owner:                  actor.Owner,
				InventoryAttemptFactor: e.opts.InventoryAttemptFactor,
				OnCleared: func(n int) {
					reply(fmt.Sprintf("Deleted %d existing buildings.", n))
					reply(fmt.Sprintf("Loading %d buildings at their original positions...", len(snap.Entities)))
				},
			})
			hs := make([]session.Handle, len(created))
			for i, c := range created {
				hs[i] = c
			}
			if !lease.RecordLastRestore(hs) {
				e.log.Debug("actor left during load; undo list dropped", zap.String("save", stem))
			}
		})
		if err != nil {
			return e.jobFailed("load", reply, err)
		}
		if cancelled {
			reply("Operation cancelled.")
			return ctx.Err()
		}
		for _, rerr := range st.Errors {
			e.log.Warn("record skipped during load", zap.String("save", stem), zap.Error(rerr))
		}
		res.Count = st.Created
		res.Cleared = st.Cleared
		res.Skipped = st.Failed

		reply(fmt.Sprintf("Successfully loaded %d entities from '%s'!", st.Created, stem))
		if st.Failed > 0 {
			reply(fmt.Sprintf("Skipped %d entities that could not be created.", st.Failed))
		}
		if st.ItemsDropped > 0 {
			reply(fmt.Sprintf("Dropped %d items that could not be placed.", st.ItemsDropped))
		}
		return nil
	})
}

// Undo removes the entities created by the actor's most recent load.
func (e *Engine) Undo(ctx context.Context, actor Actor, reply Reply) (Result, error) {
	if reply == nil {
		reply = discard
	}
	return e.run(actor, "undo", "", reply, func(res *Result) error {
		lease, ok := e.sessions.TryAcquire(actor.ID)
		if !ok {
			reply(msgBusy)
			return ErrOperationInProgress
		}
		defer lease.Release()

		had := false
		err := e.world.Do(ctx, func(*world.World) {
			hs := lease.TakeLastRestore()
			had = len(hs) > 0
			res.Count = session.Undo(hs)
		})
		if err != nil {
			return e.jobFailed("undo", reply, err)
		}
		if !had {
			reply("No pasted buildings to undo!")
			return ErrNothingToUndo
		}
		reply(fmt.Sprintf("Removed %d entities!", res.Count))
		return nil
	})
}

// Delete removes the named save. Previous versions stay in history when the
// store keeps any.
func (e *Engine) Delete(ctx context.Context, actor Actor, name string, reply Reply) (Result, error) {
	if reply == nil {
		reply = discard
	}
	return e.run(actor, "delete", name, reply, func(res *Result) error {
		stem, err := buildsave.Sanitize(name)
		if err != nil {
			reply(fmt.Sprintf("Save '%s' not found!", name))
			return err
		}
		res.Save = stem
		if err := e.store.Delete(stem); err != nil {
			if errors.Is(err, buildsave.ErrSnapshotNotFound) {
				reply(fmt.Sprintf("Save '%s' not found!", stem))
			} else {
				reply("Error deleting save: " + err.Error())
			}
			return err
		}
		reply(fmt.Sprintf("Deleted save '%s'.", stem))
		return nil
	})
}

// List returns the stored save names sorted lexicographically.
func (e *Engine) List(ctx context.Context, actor Actor, reply Reply) (Result, error) {
	if reply == nil {
		reply = discard
	}
	return e.run(actor, "list", "", reply, func(res *Result) error {
		names, err := e.store.List()
		if err != nil {
			reply("Error listing saves: " + err.Error())
			return err
		}
		res.Names = names
		res.Count = len(names)
		if len(names) == 0 {
			reply("No saves found.")
			return nil
		}
		reply(fmt.Sprintf("Saves (%d): %s", len(names), strings.Join(names, ", ")))
		return nil
	})
}

func head(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
