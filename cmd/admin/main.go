package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hophop.gg/internal/persistence/buildsave"
	"hophop.gg/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "list":
			listCmd(os.Args[2:])
			return
		case "show":
			showCmd(os.Args[2:])
			return
		case "validate":
			validateCmd(os.Args[2:])
			return
		case "delete":
			deleteCmd(os.Args[2:])
			return
		case "backups":
			backupsCmd(os.Args[2:])
			return
		case "restore-backup":
			restoreBackupCmd(os.Args[2:])
			return
		case "snapshots":
			snapshotsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "cmd":
			cmdCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func storeFlags(fs *flag.FlagSet) func() *buildsave.Store {
	dir := fs.String("saves", "./data/build_saves", "build save directory")
	keep := fs.Int("history_keep", 5, "previous versions kept per save")
	return func() *buildsave.Store {
		return buildsave.NewStore(*dir, buildsave.StoreOptions{HistoryKeep: *keep})
	}
}

func oneName(fs *flag.FlagSet) string {
	if fs.NArg() < 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fmt.Fprintf(os.Stderr, "usage: admin %s [flags] <name>\n", fs.Name())
		os.Exit(2)
	}
	return fs.Arg(0)
}

func fail(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	if errors.Is(err, buildsave.ErrSnapshotNotFound) || errors.Is(err, buildsave.ErrInvalidName) {
		os.Exit(2)
	}
	os.Exit(1)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	store := storeFlags(fs)
	_ = fs.Parse(args)

	names, err := store().List()
	if err != nil {
		fail("list", err)
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

type saveSummary struct {
	Name        string         `json:"name"`
	Entities    int            `json:"entities"`
	Items       int            `json:"items"`
	Prefabs     map[string]int `json:"prefabs"`
	Grades      map[string]int `json:"grades"`
	FieldErrors []string       `json:"field_errors,omitempty"`
}

func summarize(name string, snap buildsave.Snapshot, errs []error) saveSummary {
	s := saveSummary{Name: name, Entities: len(snap.Entities), Prefabs: map[string]int{}, Grades: map[string]int{}}
	for _, e := range snap.Entities {
		s.Prefabs[filepath.Base(e.PrefabName)]++
		s.Grades[e.Grade.String()]++
		s.Items += len(e.Inventory)
	}
	for _, err := range errs {
		s.FieldErrors = append(s.FieldErrors, err.Error())
	}
	return s
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	store := storeFlags(fs)
	raw := fs.Bool("raw", false, "print the stored document instead of a summary")
	_ = fs.Parse(args)
	name := oneName(fs)

	st := store()
	if *raw {
		doc, err := st.ReadRaw(name)
		if err != nil {
			fail("read", err)
		}
		_, _ = os.Stdout.Write(doc)
		return
	}
	snap, ferrs, err := st.Load(name)
	if err != nil {
		fail("load", err)
	}
	errs := make([]error, 0, len(ferrs))
	for _, fe := range ferrs {
		errs = append(errs, fe)
	}
	printJSON(summarize(name, snap, errs))
}

// validateDoc runs the strict schema check and the tolerant decoder. Schema
// problems are reported but only decode failures are fatal to a load.
func validateDoc(out io.Writer, doc []byte) (ok bool) {
	ok = true
	if err := buildsave.Validate(doc); err != nil {
		fmt.Fprintf(out, "schema: %v\n", err)
		ok = false
	}
	snap, ferrs, err := buildsave.Decode(doc)
	if err != nil {
		fmt.Fprintf(out, "decode: %v\n", err)
		return false
	}
	for _, fe := range ferrs {
		fmt.Fprintf(out, "field: %v\n", fe)
		ok = false
	}
	if ok {
		fmt.Fprintf(out, "ok: %d entities\n", len(snap.Entities))
	}
	return ok
}

func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	store := storeFlags(fs)
	file := fs.String("file", "", "validate a document on disk instead of a named save")
	_ = fs.Parse(args)

	var doc []byte
	var err error
	if strings.TrimSpace(*file) != "" {
		doc, err = os.ReadFile(*file)
	} else {
		doc, err = store().ReadRaw(oneName(fs))
	}
	if err != nil {
		fail("read", err)
	}
	if !validateDoc(os.Stdout, doc) {
		os.Exit(1)
	}
}

func deleteCmd(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	store := storeFlags(fs)
	_ = fs.Parse(args)
	name := oneName(fs)

	if err := store().Delete(name); err != nil {
		fail("delete", err)
	}
	fmt.Printf("deleted %s\n", name)
}

func backupsCmd(args []string) {
	fs := flag.NewFlagSet("backups", flag.ExitOnError)
	store := storeFlags(fs)
	_ = fs.Parse(args)
	name := oneName(fs)

	bs, err := store().Backups(name)
	if err != nil {
		fail("backups", err)
	}
	for _, b := range bs {
		fmt.Printf("%s\t%s\t%d\t%s\n", b.ID, b.Meta.Reason, b.Meta.Bytes, b.Meta.CreatedAt)
	}
}

func restoreBackupCmd(args []string) {
	fs := flag.NewFlagSet("restore-backup", flag.ExitOnError)
	store := storeFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: admin restore-backup [flags] <name> <backup-id>")
		os.Exit(2)
	}
	path, err := store().RestoreBackup(fs.Arg(0), fs.Arg(1))
	if err != nil {
		fail("restore", err)
	}
	fmt.Printf("restored %s@%s -> %s\n", fs.Arg(0), fs.Arg(1), path)
}

type snapshotInfo struct {
	File string `json:"file"`
	snapshot.Header
}

func listSnapshots(worldDir string) ([]snapshotInfo, error) {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []snapshotInfo
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		h, err := snapshot.ReadHeader(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, snapshotInfo{File: e.Name(), Header: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick > out[j].Tick })
	return out, nil
}

func snapshotsCmd(args []string) {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "world_1", "world id")
	_ = fs.Parse(args)

	infos, err := listSnapshots(filepath.Join(*dataDir, "worlds", *worldID))
	if err != nil {
		fail("snapshots", err)
	}
	for _, in := range infos {
		printJSON(in)
	}
}
