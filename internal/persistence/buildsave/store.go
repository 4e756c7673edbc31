package buildsave

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hophop.gg/internal/persistence/archive"
	"hophop.gg/internal/persistence/codec"
)

const Ext = ".json"

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotEmpty    = errors.New("snapshot is empty")
	ErrInvalidName      = errors.New("invalid snapshot name")
)

const maxNameLen = 128

// Sanitize maps a user supplied save name to a file stem. Characters that are
// not allowed in file names on common platforms become '_'.
func Sanitize(name string) (string, error) {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." || strings.HasPrefix(out, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(out) > maxNameLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameLen)
	}
	return out, nil
}

type StoreOptions struct {
	// HistoryKeep is how many previous versions of each save are kept under
	// .history. Zero disables history.
	HistoryKeep int
}

// Store keeps one document per save under a single directory.
type Store struct {
	dir  string
	opts StoreOptions

	mu  sync.Mutex
	now func() time.Time
}

func NewStore(dir string, opts StoreOptions) *Store {
	return &Store{dir: dir, opts: opts, now: time.Now}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Path(name string) (string, error) {
	stem, err := Sanitize(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, stem+Ext), nil
}

func (s *Store) historyDir(stem string) string {
	return filepath.Join(s.dir, ".history", stem)
}

// Save encodes snap and replaces the document called name.
func (s *Store) Save(name string, snap Snapshot) (string, error) {
	return s.WriteRaw(name, Encode(snap))
}

// WriteRaw atomically replaces the document called name with doc.
func (s *Store) WriteRaw(name string, doc []byte) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	if err := s.keepHistoryLocked(path, "overwrite"); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*"+Ext)
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", err
	}
	return path, nil
}

// ReadRaw returns the stored document. Missing files report
// ErrSnapshotNotFound and blank ones ErrSnapshotEmpty.
func (s *Store) ReadRaw(name string) ([]byte, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
		}
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotEmpty, name)
	}
	return b, nil
}

// Load reads and decodes a save. Nothing is returned unless the whole
// document parsed.
func (s *Store) Load(name string) (Snapshot, []codec.FieldError, error) {
	b, err := s.ReadRaw(name)
	if err != nil {
		return Snapshot{}, nil, err
	}
	snap, ferrs, err := Decode(b)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("save %s: %w", name, err)
	}
	return snap, ferrs, nil
}

// List returns save names sorted lexicographically.
func (s *Store) List() ([]string, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, Ext) {
			continue
		}
		out = append(out, strings.TrimSuffix(n, Ext))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
		}
		return err
	}
	if err := s.keepHistoryLocked(path, "delete"); err != nil {
		return err
	}
	return os.Remove(path)
}

func (s *Store) keepHistoryLocked(path, reason string) error {
	if s.opts.HistoryKeep <= 0 {
		return nil
	}
	stem := strings.TrimSuffix(filepath.Base(path), Ext)
	dir := s.historyDir(stem)
	if _, _, err := archive.ArchiveSave(dir, stem, path, reason, s.now()); err != nil {
		return fmt.Errorf("history %s: %w", stem, err)
	}
	if _, err := archive.Prune(dir, s.opts.HistoryKeep); err != nil {
		return fmt.Errorf("history %s: %w", stem, err)
	}
	return nil
}

// Backups lists the kept previous versions of a save, newest first.
func (s *Store) Backups(name string) ([]archive.Backup, error) {
	stem, err := Sanitize(name)
	if err != nil {
		return nil, err
	}
	return archive.List(s.historyDir(stem))
}

// RestoreBackup makes a kept version the live document again. The backup must
// still decode; the current document goes to history like any overwrite.
func (s *Store) RestoreBackup(name, id string) (string, error) {
	stem, err := Sanitize(name)
	if err != nil {
		return "", err
	}
	doc, err := archive.Open(s.historyDir(stem), id)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s@%s", ErrSnapshotNotFound, name, id)
		}
		return "", err
	}
	if _, _, err := Decode(doc); err != nil {
		return "", fmt.Errorf("backup %s@%s: %w", name, id, err)
	}
	return s.WriteRaw(name, doc)
}
