package main

import (
	"fmt"

	"hophop.gg/internal/config"
	"hophop.gg/internal/persistence/indexdb"
	"hophop.gg/internal/persistence/snapshot"
	"hophop.gg/internal/sim/builds"
	"hophop.gg/internal/sim/catalogs"
)

type runtimeIndex interface {
	builds.Journal
	Close() error
	Stats() indexdb.Stats
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs) error
	RecordSnapshot(path string, snap snapshot.WorldV1)
}

// openRuntimeIndex returns nil, nil when indexing is disabled.
func openRuntimeIndex(cfg config.IndexConfig) (runtimeIndex, *indexdb.Reader, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		// the writer created the file and schema, so a read-only handle can follow
		rd, err := indexdb.OpenReader(cfg.Path)
		if err != nil {
			_ = idx.Close()
			return nil, nil, err
		}
		return idx, rd, nil
	default:
		return nil, nil, fmt.Errorf("unsupported index backend: %s", cfg.Backend)
	}
}
