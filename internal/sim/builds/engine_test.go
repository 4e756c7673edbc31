package builds

import (
	"bytes"
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"hophop.gg/internal/persistence/buildsave"
	"hophop.gg/internal/persistence/codec"
	"hophop.gg/internal/protocol"
	"hophop.gg/internal/sim/catalogs"
	"hophop.gg/internal/sim/world"
)

var builder = Actor{ID: "76561198000000001", Name: "builder", Owner: 76561198000000001}

func TestSaveLoad_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.place(foundation, mgl64.Vec3{0, 0, 0}, catalogs.Stone, 375)
	env.place(foundation, mgl64.Vec3{3, 0, 0}, catalogs.Wood, 250)
	storeID := env.place(storage, mgl64.Vec3{0, 3, 0}, catalogs.TopTier, 2000)
	env.do(func(w *world.World) {
		e, _ := w.Entity(storeID)
		e.SetCustomColour(12)
		inv, _ := e.Inventory()
		rifle, _ := w.CreateItem(itemRifle, 1, 2080321237)
		rifle.SetCondition(87.5)
		rifle.Position = 0
		inv.Insert(rifle)
		wood, _ := w.CreateItem(itemWood, 1000, 0)
		wood.Position = 11
		inv.Insert(wood)

		// children and deployables are not captured
		b, _ := w.CreateEntity(box, mgl64.Vec3{0, 4, 0}, mgl64.Vec3{})
		_ = b.Spawn()
		b.SetParent(e)
	})
	before := env.buildings()

	var r replies
	res, err := env.eng.Save(context.Background(), builder, "base", r.add)
	if err != nil {
		t.Fatalf("save: %v (%s)", err, r.String())
	}
	if res.Count != 3 || res.OpID == "" {
		t.Fatalf("result=%+v", res)
	}
	if !r.has("Successfully saved 3 entities from the entire map as 'base'!") {
		t.Fatalf("replies: %s", r.String())
	}

	// replace the world with something else, then load
	env.do(func(w *world.World) { ClearBuildings(w) })
	env.place(wall, mgl64.Vec3{50, 0, 50}, catalogs.Twigs, 10)

	r = replies{}
	res, err = env.eng.Load(context.Background(), builder, "base", r.add)
	if err != nil {
		t.Fatalf("load: %v (%s)", err, r.String())
	}
	if res.Count != 3 || res.Cleared != 1 {
		t.Fatalf("result=%+v", res)
	}
	for _, want := range []string{
		"Deleting all existing buildings...",
		"Deleted 1 existing buildings.",
		"Loading 3 buildings at their original positions...",
		"Successfully loaded 3 entities from 'base'!",
	} {
		if !r.has(want) {
			t.Fatalf("missing reply %q in %s", want, r.String())
		}
	}
	after := env.buildings()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("world differs after load:\nbefore=%+v\n after=%+v", before, after)
	}

	env.do(func(w *world.World) {
		var buildingID uint32
		for _, e := range w.BuildingBlocks() {
			if buildingID == 0 {
				buildingID = e.BuildingID()
			}
			if e.BuildingID() == 0 || e.BuildingID() != buildingID {
				t.Errorf("entity %d building=%d want shared %d", e.ID(), e.BuildingID(), buildingID)
			}
			if inv, ok := e.Inventory(); ok {
				got := inv.Slot(0)
				if got == nil || got.ID != itemRifle || got.Condition() != 87.5 || got.Skin != 2080321237 {
					t.Errorf("slot 0=%+v", got)
				}
			}
		}
	})
}

func TestLoad_HealthRatioSurvivesGradeChange(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Save("ratio", buildsave.Snapshot{
		SaveName: "ratio",
		Entities: []buildsave.EntityRecord{{
			PrefabName: foundation,
			Grade:      catalogs.Wood,
			Health:     50,
			MaxHealth:  100,
			SkinID:     "0",
			OwnerID:    "0",
		}},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.eng.Load(context.Background(), builder, "ratio", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := env.buildings()
	if len(got) != 1 || got[0].Grade != catalogs.Wood || got[0].Health != 125 {
		t.Fatalf("buildings=%+v want wood at 125", got)
	}
	env.do(func(w *world.World) {
		if owner := w.BuildingBlocks()[0].OwnerID(); owner != builder.Owner {
			t.Errorf("owner=%d want loader %d", owner, builder.Owner)
		}
	})
}

func TestLoad_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 4; i++ {
		env.place(foundation, mgl64.Vec3{float64(i) * 3, 0, 0}, catalogs.Grade(i), 5)
	}
	if _, err := env.eng.Save(context.Background(), builder, "four", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.eng.Load(context.Background(), builder, "four", nil); err != nil {
		t.Fatalf("load 1: %v", err)
	}
	first := env.buildings()
	if _, err := env.eng.Load(context.Background(), builder, "four", nil); err != nil {
		t.Fatalf("load 2: %v", err)
	}
	second := env.buildings()
	if len(first) != 4 || !reflect.DeepEqual(first, second) {
		t.Fatalf("loads differ:\n1=%+v\n2=%+v", first, second)
	}
}

func TestLoad_RejectedWhileActorBusy(t *testing.T) {
	env := newTestEnv(t)
	env.place(foundation, mgl64.Vec3{}, catalogs.Wood, 250)
	if _, err := env.eng.Save(context.Background(), builder, "base", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.eng.Load(context.Background(), builder, "base", nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	// stall the world loop so the next load stays in flight
	release := make(chan struct{})
	stalled := make(chan struct{})
	go func() {
		_ = env.w.Do(context.Background(), func(*world.World) {
			close(stalled)
			<-release
		})
	}()
	<-stalled

	firstDone := make(chan error, 1)
	go func() {
		_, err := env.eng.Load(context.Background(), builder, "base", nil)
		firstDone <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !env.eng.Sessions().Busy(builder.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("first load never took the guard")
		}
		time.Sleep(time.Millisecond)
	}

	var r replies
	_, err := env.eng.Load(context.Background(), builder, "base", r.add)
	if !errors.Is(err, ErrOperationInProgress) || Code(err) != protocol.ErrOpInProgress {
		t.Fatalf("second load err=%v", err)
	}
	if !r.has("already in progress") {
		t.Fatalf("replies: %s", r.String())
	}
	if _, err := env.eng.Save(context.Background(), builder, "other", nil); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("save while busy err=%v", err)
	}
	if _, err := env.eng.Undo(context.Background(), builder, nil); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("undo while busy err=%v", err)
	}
	// a different actor is not blocked by the guard
	if _, err := env.eng.List(context.Background(), Actor{ID: "other"}, nil); err != nil {
		t.Fatalf("list for other actor: %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first load: %v", err)
	}
	st := env.eng.Sessions().Stats()
	if len(st) != 1 || st[0].Undoable != 1 || st[0].Busy {
		t.Fatalf("sessions=%+v", st)
	}
}

func TestLoad_FailuresLeaveWorldUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.place(foundation, mgl64.Vec3{}, catalogs.Metal, 900)
	env.place(wall, mgl64.Vec3{0, 1, 0}, catalogs.Stone, 400)
	before := env.buildings()

	doc := buildsave.Encode(buildsave.Snapshot{SaveName: "x", Entities: []buildsave.EntityRecord{{PrefabName: wall}}})
	write := func(name string, b []byte) {
		path, err := env.store.Path(name)
		if err != nil {
			t.Fatalf("path: %v", err)
		}
		if err := os.MkdirAll(env.store.Dir(), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	doc = bytes.TrimSpace(doc)
	write("truncated", doc[:len(doc)-1])
	write("blank", []byte("   "))
	write("unterminated", []byte(`{"SaveName":"x}`))
	write("noentities", buildsave.Encode(buildsave.Snapshot{SaveName: "noentities"}))

	cases := []struct {
		name  string
		err   error
		code  string
		reply string
	}{
		{"truncated", codec.ErrMalformedDocument, protocol.ErrSaveCorrupt, "is corrupted!"},
		{"unterminated", codec.ErrUnterminatedString, protocol.ErrSaveCorrupt, "is corrupted!"},
		{"missing", buildsave.ErrSnapshotNotFound, protocol.ErrSaveNotFound, "Save 'missing' not found!"},
		{"blank", buildsave.ErrSnapshotEmpty, protocol.ErrSaveEmpty, "Save 'blank' is empty!"},
		{"noentities", buildsave.ErrSnapshotEmpty, protocol.ErrSaveEmpty, "Save file is empty or corrupted!"},
	}
	for _, tc := range cases {
		var r replies
		_, err := env.eng.Load(context.Background(), builder, tc.name, r.add)
		if !errors.Is(err, tc.err) || Code(err) != tc.code {
			t.Fatalf("%s: err=%v code=%s", tc.name, err, Code(err))
		}
		if !r.has(tc.reply) || r.has("Deleting") {
			t.Fatalf("%s: replies %s", tc.name, r.String())
		}
		if after := env.buildings(); !reflect.DeepEqual(before, after) {
			t.Fatalf("%s: world changed: %+v", tc.name, after)
		}
	}
	if env.eng.Sessions().Busy(builder.ID) {
		t.Fatalf("guard not released after failures")
	}
}

func TestLoad_CancelledBeforeClear(t *testing.T) {
	env := newTestEnv(t)
	env.place(foundation, mgl64.Vec3{}, catalogs.Wood, 250)
	if _, err := env.eng.Save(context.Background(), builder, "base", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	env.place(wall, mgl64.Vec3{9, 0, 0}, catalogs.Twigs, 10)
	before := env.buildings()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.eng.Load(ctx, builder, "base", nil)
	if !errors.Is(err, context.Canceled) || Code(err) != protocol.ErrCancelled {
		t.Fatalf("err=%v", err)
	}
	if after := env.buildings(); !reflect.DeepEqual(before, after) {
		t.Fatalf("world changed: %+v", after)
	}
	if env.eng.Sessions().Busy(builder.ID) {
		t.Fatalf("guard held after cancel")
	}
}

func TestUndo_RemovesLastLoad(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.place(foundation, mgl64.Vec3{float64(i) * 3, 0, 0}, catalogs.Wood, 100)
	}
	if _, err := env.eng.Save(context.Background(), builder, "three", nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	var r replies
	if _, err := env.eng.Undo(context.Background(), builder, r.add); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("undo before load err=%v", err)
	}
	if !r.has("No pasted buildings to undo!") {
		t.Fatalf("replies: %s", r.String())
	}

	if _, err := env.eng.Load(context.Background(), builder, "three", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	// one of the loaded blocks is destroyed by someone else
	env.do(func(w *world.World) { w.BuildingBlocks()[0].Kill() })

	r = replies{}
	res, err := env.eng.Undo(context.Background(), builder, r.add)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if res.Count != 2 || !r.has("Removed 2 entities!") {
		t.Fatalf("result=%+v replies=%s", res, r.String())
	}
	if got := env.buildings(); len(got) != 0 {
		t.Fatalf("buildings left: %+v", got)
	}
	if _, err := env.eng.Undo(context.Background(), builder, nil); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("second undo err=%v", err)
	}
}

func TestDisconnect_DropsUndoList(t *testing.T) {
	env := newTestEnv(t)
	env.place(foundation, mgl64.Vec3{}, catalogs.Wood, 100)
	if _, err := env.eng.Save(context.Background(), builder, "base", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.eng.Load(context.Background(), builder, "base", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	env.eng.Disconnect(builder.ID)
	if _, err := env.eng.Undo(context.Background(), builder, nil); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("undo after disconnect err=%v", err)
	}
	if got := env.buildings(); len(got) != 1 {
		t.Fatalf("disconnect removed buildings: %+v", got)
	}
}

func TestDeleteAndList(t *testing.T) {
	env := newTestEnv(t)
	for _, n := range []string{"b", "a"} {
		if _, err := env.eng.Save(context.Background(), builder, n, nil); err != nil {
			t.Fatalf("save %s: %v", n, err)
		}
	}
	var r replies
	res, err := env.eng.List(context.Background(), builder, r.add)
	if err != nil || !reflect.DeepEqual(res.Names, []string{"a", "b"}) || !r.has("Saves (2): a, b") {
		t.Fatalf("list=%+v err=%v replies=%s", res, err, r.String())
	}
	if _, err := env.eng.Delete(context.Background(), builder, "a", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.eng.Delete(context.Background(), builder, "a", nil); !errors.Is(err, buildsave.ErrSnapshotNotFound) {
		t.Fatalf("second delete err=%v", err)
	}
	if _, err := env.eng.Save(context.Background(), builder, "  ", nil); !errors.Is(err, buildsave.ErrInvalidName) {
		t.Fatalf("blank name err=%v", err)
	}
}

type recordingJournal struct{ recs []OpRecord }

func (j *recordingJournal) RecordOp(r OpRecord) { j.recs = append(j.recs, r) }

func TestJournal_RecordsEveryOperation(t *testing.T) {
	env := newTestEnv(t)
	j := &recordingJournal{}
	env.eng.SetJournal(j)
	_, _ = env.eng.Save(context.Background(), builder, "j", nil)
	_, _ = env.eng.Load(context.Background(), builder, "missing", nil)
	if len(j.recs) != 2 {
		t.Fatalf("records=%d", len(j.recs))
	}
	if !j.recs[0].OK || j.recs[0].Op != "save" || j.recs[0].ID == "" {
		t.Fatalf("save record=%+v", j.recs[0])
	}
	if j.recs[1].OK || j.recs[1].Code != protocol.ErrSaveNotFound || j.recs[1].ID == j.recs[0].ID {
		t.Fatalf("load record=%+v", j.recs[1])
	}
}
