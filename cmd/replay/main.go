package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"hophop.gg/internal/persistence/buildsave"
	persistlog "hophop.gg/internal/persistence/log"
	"hophop.gg/internal/persistence/snapshot"
	"hophop.gg/internal/sim/builds"
	"hophop.gg/internal/sim/catalogs"
	"hophop.gg/internal/sim/world"
)

// replay walks the build operation journal, and can rebuild a world from a
// snapshot to capture its buildings into a new build save.
func main() {
	var (
		opsDir    = flag.String("ops", "", "journal dir containing ops-*.jsonl.zst")
		actor     = flag.String("actor", "", "only ops by this actor")
		op        = flag.String("op", "", "only this op (save|load|delete|undo|list)")
		since     = flag.String("since", "", "only ops started at or after this RFC3339 time")
		quiet     = flag.Bool("quiet", false, "print totals only")
		snapPath  = flag.String("snapshot", "", "world snapshot (.snap.zst) to rebuild")
		captureAs = flag.String("capture", "", "save the rebuilt world's buildings under this name")
		savesDir  = flag.String("saves", "./data/build_saves", "build save directory for -capture")
		configDir = flag.String("configs", "./configs", "config directory")
	)
	flag.Parse()

	if *opsDir == "" && *snapPath == "" {
		fmt.Fprintln(os.Stderr, "need -ops and/or -snapshot")
		os.Exit(2)
	}

	if *opsDir != "" {
		f := opFilter{Actor: *actor, Op: *op}
		if *since != "" {
			t, err := time.Parse(time.RFC3339, *since)
			if err != nil {
				fmt.Fprintln(os.Stderr, "bad -since:", err)
				os.Exit(2)
			}
			f.Since = t
		}
		out := io.Writer(os.Stdout)
		if *quiet {
			out = io.Discard
		}
		tot, err := replayOps(*opsDir, f, out)
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay ops:", err)
			os.Exit(1)
		}
		tot.print(os.Stdout)
	}

	if *snapPath != "" {
		cats, err := catalogs.Load(*configDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load catalogs:", err)
			os.Exit(1)
		}
		var store *buildsave.Store
		if *captureAs != "" {
			store = buildsave.NewStore(*savesDir, buildsave.StoreOptions{HistoryKeep: 5})
		}
		res, err := rebuild(*snapPath, cats, store, *captureAs)
		if err != nil {
			fmt.Fprintln(os.Stderr, "rebuild:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot world=%s tick=%d entities=%d building_blocks=%d\n", res.WorldID, res.Tick, res.Entities, res.BuildingBlocks)
		if res.DigestMismatch {
			fmt.Println("warning: snapshot was written with different catalogs")
		}
		if res.SavedPath != "" {
			fmt.Printf("captured %d entities (skipped %d) -> %s\n", res.Captured, res.Skipped, res.SavedPath)
		}
	}
}

type opFilter struct {
	Actor string
	Op    string
	Since time.Time
}

func (f opFilter) match(o persistlog.OpLine) bool {
	if f.Actor != "" && o.Actor != f.Actor {
		return false
	}
	if f.Op != "" && o.Op != f.Op {
		return false
	}
	if !f.Since.IsZero() {
		t, err := time.Parse(time.RFC3339Nano, o.StartedAt)
		if err != nil || t.Before(f.Since) {
			return false
		}
	}
	return true
}

type totals struct {
	Ops      int
	Failed   int
	ByOp     map[string]int
	ByCode   map[string]int
	Restored int
	Undone   int
}

func (t totals) print(w io.Writer) {
	fmt.Fprintf(w, "ops=%d failed=%d restored=%d undone=%d\n", t.Ops, t.Failed, t.Restored, t.Undone)
	for _, k := range sortedKeys(t.ByOp) {
		fmt.Fprintf(w, "  op %-8s %d\n", k, t.ByOp[k])
	}
	for _, k := range sortedKeys(t.ByCode) {
		fmt.Fprintf(w, "  code %-20s %d\n", k, t.ByCode[k])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func replayOps(dir string, f opFilter, out io.Writer) (totals, error) {
	t := totals{ByOp: map[string]int{}, ByCode: map[string]int{}}
	err := persistlog.ReadOps(dir, func(o persistlog.OpLine) error {
		if !f.match(o) {
			return nil
		}
		t.Ops++
		t.ByOp[o.Op]++
		status := "ok"
		if !o.OK {
			t.Failed++
			t.ByCode[o.Code]++
			status = o.Code
		} else {
			switch o.Op {
			case "load":
				t.Restored += o.Count
			case "undo":
				t.Undone += o.Count
			}
		}
		fmt.Fprintf(out, "%s %-20s %-6s %-24s %-18s count=%d %.1fms\n",
			o.StartedAt, o.Actor, o.Op, o.Save, status, o.Count, o.DurationMS)
		return nil
	})
	return t, err
}

type rebuildResult struct {
	WorldID        string
	Tick           uint64
	Entities       int
	BuildingBlocks int
	DigestMismatch bool

	Captured  int
	Skipped   int
	SavedPath string
}

// rebuild imports a world snapshot into a private world that never runs, and
// optionally captures its buildings the same way a live save does.
func rebuild(path string, cats *catalogs.Catalogs, store *buildsave.Store, name string) (rebuildResult, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return rebuildResult{}, err
	}
	w, err := world.New(world.WorldConfig{ID: snap.Header.WorldID}, cats)
	if err != nil {
		return rebuildResult{}, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return rebuildResult{}, err
	}
	res := rebuildResult{
		WorldID:        w.ID(),
		Tick:           w.CurrentTick(),
		Entities:       len(w.Entities()),
		BuildingBlocks: len(w.BuildingBlocks()),
	}
	if d := snap.Header.PrefabsDigest; d != "" && d != cats.Prefabs.Digest {
		res.DigestMismatch = true
	}
	if d := snap.Header.ItemsDigest; d != "" && d != cats.Items.Digest {
		res.DigestMismatch = true
	}

	if store == nil || strings.TrimSpace(name) == "" {
		return res, nil
	}
	stem, err := buildsave.Sanitize(name)
	if err != nil {
		return res, err
	}
	saved, st := builds.Capture(stem, builds.Entities(w.Entities()), builds.CaptureOptions{})
	res.Captured, res.Skipped = st.Captured, st.Skipped
	res.SavedPath, err = store.Save(stem, saved)
	return res, err
}
