package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"hophop.gg/internal/sim/builds"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// OpLogger appends one JSONL line per finished build operation. It implements
// builds.Journal; write failures are reported to onErr and never block the
// caller beyond the file write.
type OpLogger struct {
	w     *JSONLZstdWriter
	onErr func(error)
}

// OpLine is one journal line as written by OpLogger.
type OpLine struct {
	OpID        string  `json:"op_id"`
	Actor       string  `json:"actor"`
	Op          string  `json:"op"`
	Save        string  `json:"save,omitempty"`
	OK          bool    `json:"ok"`
	Code        string  `json:"code,omitempty"`
	Err         string  `json:"err,omitempty"`
	Count       int     `json:"count"`
	Cleared     int     `json:"cleared,omitempty"`
	Skipped     int     `json:"skipped,omitempty"`
	FieldErrors int     `json:"field_errors,omitempty"`
	StartedAt   string  `json:"started_at"`
	DurationMS  float64 `json:"duration_ms"`
}

func NewOpLogger(dataDir string, onErr func(error)) *OpLogger {
	return &OpLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "ops"), onErr: onErr}
}

func (l *OpLogger) RecordOp(r builds.OpRecord) {
	err := l.w.Write(OpLine{
		OpID:        r.ID,
		Actor:       r.ActorID,
		Op:          r.Op,
		Save:        r.Save,
		OK:          r.OK,
		Code:        r.Code,
		Err:         r.Err,
		Count:       r.Count,
		Cleared:     r.Cleared,
		Skipped:     r.Skipped,
		FieldErrors: r.FieldErrors,
		StartedAt:   r.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMS:  float64(r.Duration.Microseconds()) / 1000,
	})
	if err != nil && l.onErr != nil {
		l.onErr(err)
	}
}

func (l *OpLogger) Close() error { return l.w.Close() }

// ReadOps calls fn for every OpLine in dir, oldest file first. Files are named
// by UTC hour, so name order is time order.
func ReadOps(dir string, fn func(OpLine) error) error {
	files, err := filepath.Glob(filepath.Join(dir, "ops-*.jsonl.zst"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, path := range files {
		if err := readOpsFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readOpsFile(path string, fn func(OpLine) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var line OpLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return err
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
