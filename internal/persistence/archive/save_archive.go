package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const backupExt = ".json.zst"

type BackupMeta struct {
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	Bytes     int64  `json:"bytes"`
	CreatedAt string `json:"created_at"`
}

type Backup struct {
	ID   string
	Path string
	Meta BackupMeta
}

// ArchiveSave compresses the document at srcPath into `dir/<UTC timestamp>.json.zst`
// and writes a sidecar meta file next to it. A missing source is not an error:
// there is nothing to keep.
func ArchiveSave(dir, name, srcPath, reason string, now time.Time) (Backup, bool, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Backup{}, false, nil
		}
		return Backup{}, false, err
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Backup{}, false, err
	}
	id := now.UTC().Format("20060102T150405.000000000Z")
	dst := filepath.Join(dir, id+backupExt)
	n, err := compressFile(in, dst)
	if err != nil {
		_ = os.Remove(dst)
		return Backup{}, false, err
	}

	meta := BackupMeta{
		Name:      name,
		Reason:    reason,
		Bytes:     n,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, id+".meta.json"), b, 0o644)
	}
	return Backup{ID: id, Path: dst, Meta: meta}, true, nil
}

func compressFile(in io.Reader, dst string) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Close() }()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(enc, in)
	if err != nil {
		_ = enc.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	return n, out.Close()
}

// List returns the backups in dir, newest first.
func List(dir string) ([]Backup, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Backup
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupExt) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), backupExt)
		b := Backup{ID: id, Path: filepath.Join(dir, e.Name())}
		if raw, err := os.ReadFile(filepath.Join(dir, id+".meta.json")); err == nil {
			_ = json.Unmarshal(raw, &b.Meta)
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Prune removes all but the newest keep backups in dir.
func Prune(dir string, keep int) (removed int, err error) {
	if keep < 0 {
		keep = 0
	}
	all, err := List(dir)
	if err != nil {
		return 0, err
	}
	for _, b := range all[min(keep, len(all)):] {
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		_ = os.Remove(filepath.Join(dir, b.ID+".meta.json"))
		removed++
	}
	return removed, nil
}

// Open returns the decompressed document of backup id in dir.
func Open(dir, id string) ([]byte, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("invalid backup id %q", id)
	}
	f, err := os.Open(filepath.Join(dir, id+backupExt))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
