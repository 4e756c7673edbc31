package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hophop.gg/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default <data>/index/builds.sqlite)")
	actor := fs.String("actor", "", "actor filter (ops)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "ops"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "builds.sqlite")
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()
	ctx := context.Background()

	var rows any
	switch q {
	case "ops":
		rows, err = r.RecentOps(ctx, *actor, *limit)
	case "saves":
		rows, err = r.Saves(ctx)
	case "snapshots":
		rows, err = r.Snapshots(ctx, *limit)
	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (ops|saves|snapshots)\n", q)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printRows(rows)
}

// printRows writes one JSON object per line.
func printRows(rows any) {
	switch rs := rows.(type) {
	case []indexdb.OpRow:
		for _, r := range rs {
			printJSON(r)
		}
	case []indexdb.SaveRow:
		for _, r := range rs {
			printJSON(r)
		}
	case []indexdb.SnapshotRow:
		for _, r := range rs {
			printJSON(r)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
