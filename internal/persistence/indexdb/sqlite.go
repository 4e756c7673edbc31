package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"hophop.gg/internal/persistence/snapshot"
	"hophop.gg/internal/sim/builds"
	"hophop.gg/internal/sim/catalogs"
)

// SQLiteIndex is a queryable secondary index of operations, saves and world
// snapshots. Writes are queued and applied by one goroutine; the save files
// and JSONL logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropOp       atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqOp reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	op       builds.OpRecord
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick      uint64
	Path      string
	WorldID   string
	Entities  int
	Buildings int
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropOpTotal       uint64 `json:"drop_op_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS operations (
			op_id TEXT PRIMARY KEY,
			actor TEXT NOT NULL,
			op TEXT NOT NULL,
			save TEXT NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT NOT NULL,
			err TEXT NOT NULL,
			count INTEGER NOT NULL,
			cleared INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			field_errors INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_operations_actor ON operations(actor, started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_operations_save ON operations(save, started_at);`,
		`CREATE TABLE IF NOT EXISTS saves (
			name TEXT PRIMARY KEY,
			entities INTEGER NOT NULL,
			saved_by TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			loads INTEGER NOT NULL DEFAULT 0,
			deleted_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS world_snapshots (
			tick INTEGER PRIMARY KEY,
			world_id TEXT NOT NULL,
			path TEXT NOT NULL,
			entities INTEGER NOT NULL,
			buildings INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropOpTotal:       s.dropOp.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// RecordOp queues one finished operation. It never blocks; when the writer
// falls behind the record is dropped and counted.
func (s *SQLiteIndex) RecordOp(r builds.OpRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqOp, op: r}:
	default:
		s.dropOp.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.WorldV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:     snap.Header.Tick,
		Path:     path,
		WorldID:  snap.Header.WorldID,
		Entities: len(snap.Entities),
	}
	seen := map[uint32]struct{}{}
	for _, e := range snap.Entities {
		if _, ok := seen[e.Building]; !ok && e.Building != 0 {
			seen[e.Building] = struct{}{}
			r.Buildings++
		}
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertCatalogs stores the raw catalog files with their digests so a save
// can later be matched to the catalogs it was produced with.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs) error {
	if s == nil || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := []struct {
		name, file, digest string
	}{
		{"prefabs", "prefabs.json", cats.Prefabs.Digest},
		{"items", "items.json", cats.Items.Digest},
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	for _, r := range rows {
		b, err := os.ReadFile(filepath.Join(configDir, r.file))
		if err != nil || r.digest == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
			r.name, r.digest, string(b), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertOp, _ := s.db.Prepare(`INSERT OR REPLACE INTO operations(op_id,actor,op,save,ok,code,err,count,cleared,skipped,field_errors,started_at,duration_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	upsertSave, _ := s.db.Prepare(`INSERT INTO saves(name,entities,saved_by,updated_at,deleted_at) VALUES(?,?,?,?,NULL)
		ON CONFLICT(name) DO UPDATE SET entities=excluded.entities, saved_by=excluded.saved_by, updated_at=excluded.updated_at, deleted_at=NULL`)
	markLoaded, _ := s.db.Prepare(`UPDATE saves SET loads=loads+1 WHERE name=?`)
	markDeleted, _ := s.db.Prepare(`UPDATE saves SET deleted_at=? WHERE name=?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO world_snapshots(tick,world_id,path,entities,buildings) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertOp, upsertSave, markLoaded, markDeleted, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqOp:
			op := r.op
			started := op.StartedAt.UTC().Format(time.RFC3339Nano)
			if !exec(insertOp,
				op.ID, op.ActorID, op.Op, op.Save, boolInt(op.OK), op.Code, op.Err,
				op.Count, op.Cleared, op.Skipped, op.FieldErrors,
				started, float64(op.Duration.Microseconds())/1000,
			) {
				continue
			}
			if !op.OK || op.Save == "" {
				break
			}
			switch op.Op {
			case "save":
				exec(upsertSave, op.Save, op.Count, op.ActorID, started)
			case "load":
				exec(markLoaded, op.Save)
			case "delete":
				exec(markDeleted, started, op.Save)
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.WorldID, sn.Path, sn.Entities, sn.Buildings)
		}

		// commit when idle so readers see recent rows
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
