package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

type OpRow struct {
	OpID        string  `json:"op_id"`
	Actor       string  `json:"actor"`
	Op          string  `json:"op"`
	Save        string  `json:"save,omitempty"`
	OK          bool    `json:"ok"`
	Code        string  `json:"code,omitempty"`
	Err         string  `json:"err,omitempty"`
	Count       int     `json:"count"`
	Cleared     int     `json:"cleared"`
	Skipped     int     `json:"skipped"`
	FieldErrors int     `json:"field_errors"`
	StartedAt   string  `json:"started_at"`
	DurationMS  float64 `json:"duration_ms"`
}

type SaveRow struct {
	Name      string `json:"name"`
	Entities  int    `json:"entities"`
	SavedBy   string `json:"saved_by"`
	UpdatedAt string `json:"updated_at"`
	Loads     int    `json:"loads"`
	DeletedAt string `json:"deleted_at,omitempty"`
}

// Reader runs read-only queries against an index written by SQLiteIndex.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index db: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// RecentOps returns the newest operations first. An empty actor matches all.
func (r *Reader) RecentOps(ctx context.Context, actor string, limit int) ([]OpRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT op_id,actor,op,save,ok,code,err,count,cleared,skipped,field_errors,started_at,duration_ms
		FROM operations WHERE (?='' OR actor=?) ORDER BY started_at DESC LIMIT ?`, actor, actor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpRow
	for rows.Next() {
		var o OpRow
		if err := rows.Scan(&o.OpID, &o.Actor, &o.Op, &o.Save, &o.OK, &o.Code, &o.Err, &o.Count, &o.Cleared, &o.Skipped, &o.FieldErrors, &o.StartedAt, &o.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Saves lists indexed saves by name, including deleted ones.
func (r *Reader) Saves(ctx context.Context) ([]SaveRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name,entities,saved_by,updated_at,loads,COALESCE(deleted_at,'') FROM saves ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveRow
	for rows.Next() {
		var s SaveRow
		if err := rows.Scan(&s.Name, &s.Entities, &s.SavedBy, &s.UpdatedAt, &s.Loads, &s.DeletedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type SnapshotRow struct {
	Tick      uint64 `json:"tick"`
	WorldID   string `json:"world_id"`
	Path      string `json:"path"`
	Entities  int    `json:"entities"`
	Buildings int    `json:"buildings"`
}

func (r *Reader) Snapshots(ctx context.Context, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT tick,world_id,path,entities,buildings FROM world_snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var s SnapshotRow
		if err := rows.Scan(&s.Tick, &s.WorldID, &s.Path, &s.Entities, &s.Buildings); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
