package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArchiveSave_CompressesAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "base.json")
	want := []byte(`{"SaveName":"base","Entities":[]}`)
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	histDir := filepath.Join(dir, ".history", "base")
	b, ok, err := ArchiveSave(histDir, "base", src, "overwrite", time.Unix(100, 0))
	if err != nil || !ok {
		t.Fatalf("archive: ok=%v err=%v", ok, err)
	}
	if b.Meta.Bytes != int64(len(want)) || b.Meta.Reason != "overwrite" {
		t.Fatalf("meta=%+v", b.Meta)
	}
	got, err := Open(histDir, b.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("content mismatch: got=%q want=%q", got, want)
	}
	if _, err := os.Stat(filepath.Join(histDir, b.ID+".meta.json")); err != nil {
		t.Fatalf("expected meta sidecar: %v", err)
	}
}

func TestArchiveSave_MissingSourceIsNoop(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := ArchiveSave(filepath.Join(dir, "h"), "x", filepath.Join(dir, "nope.json"), "delete", time.Now())
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestPrune_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "s.json")
	if err := os.WriteFile(src, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	hist := filepath.Join(dir, "h")
	for i := 0; i < 5; i++ {
		if _, _, err := ArchiveSave(hist, "s", src, "overwrite", time.Unix(int64(1000+i), 0)); err != nil {
			t.Fatalf("archive %d: %v", i, err)
		}
	}
	removed, err := Prune(hist, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed=%d want 3", removed)
	}
	left, err := List(hist)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 2 || left[0].ID <= left[1].ID {
		t.Fatalf("left=%v", left)
	}
	if left[0].Meta.CreatedAt != time.Unix(1004, 0).UTC().Format(time.RFC3339Nano) {
		t.Fatalf("newest=%+v", left[0].Meta)
	}
}

func TestOpen_RejectsTraversal(t *testing.T) {
	if _, err := Open(t.TempDir(), "../x"); err == nil {
		t.Fatalf("expected error")
	}
}
