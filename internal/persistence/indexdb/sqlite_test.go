package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hophop.gg/internal/persistence/snapshot"
	"hophop.gg/internal/sim/builds"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqOp}

	s.RecordOp(builds.OpRecord{ID: "x"})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.WorldV1{})

	st := s.Stats()
	if st.DropOpTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_OpsAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "builds.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ops := []builds.OpRecord{
		{ID: "1", ActorID: "A", Op: "save", Save: "base", OK: true, Count: 40, StartedAt: t0},
		{ID: "2", ActorID: "B", Op: "load", Save: "base", OK: true, Count: 40, Cleared: 3, StartedAt: t0.Add(time.Minute)},
		{ID: "3", ActorID: "B", Op: "load", Save: "nope", Code: "E_SAVE_NOT_FOUND", Err: "snapshot not found", StartedAt: t0.Add(2 * time.Minute)},
		{ID: "4", ActorID: "A", Op: "save", Save: "tower", OK: true, Count: 7, StartedAt: t0.Add(3 * time.Minute)},
		{ID: "5", ActorID: "A", Op: "delete", Save: "tower", OK: true, StartedAt: t0.Add(4 * time.Minute), Duration: 1500 * time.Microsecond},
	}
	for _, op := range ops {
		idx.RecordOp(op)
	}
	idx.RecordSnapshot("/data/snapshots/10.snap.zst", snapshot.WorldV1{
		Header:   snapshot.Header{Tick: 10, WorldID: "w"},
		Entities: []snapshot.EntityV1{{ID: 1, Building: 4}, {ID: 2, Building: 4}, {ID: 3, Building: 9}},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	got, err := r.RecentOps(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentOps: %v", err)
	}
	if len(got) != 5 || got[0].OpID != "5" || got[0].DurationMS != 1.5 {
		t.Fatalf("ops=%+v", got)
	}
	byB, err := r.RecentOps(ctx, "B", 10)
	if err != nil || len(byB) != 2 || byB[0].OK || byB[0].Code != "E_SAVE_NOT_FOUND" {
		t.Fatalf("ops for B=%+v err=%v", byB, err)
	}

	saves, err := r.Saves(ctx)
	if err != nil {
		t.Fatalf("Saves: %v", err)
	}
	if len(saves) != 2 {
		t.Fatalf("saves=%+v", saves)
	}
	if s := saves[0]; s.Name != "base" || s.Entities != 40 || s.Loads != 1 || s.DeletedAt != "" {
		t.Fatalf("base=%+v", s)
	}
	if s := saves[1]; s.Name != "tower" || s.DeletedAt == "" {
		t.Fatalf("tower=%+v", s)
	}

	snaps, err := r.Snapshots(ctx, 5)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Tick != 10 || snaps[0].Entities != 3 || snaps[0].Buildings != 2 {
		t.Fatalf("snapshots=%+v", snaps)
	}
}
