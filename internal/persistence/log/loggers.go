package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// HourLayout names one segment per UTC hour.
const HourLayout = "2006-01-02-15"

// JSONLZstdWriter appends JSON lines to time-bucketed zstd segments. A new
// segment is opened when the bucket changes; the finished one is passed to
// OnRotate once it is fully closed.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	layout  string

	// OnRotate, when set, receives the path of each closed segment.
	OnRotate func(path string)
	// Now defaults to time.Now.
	Now func() time.Time

	mu        sync.Mutex
	curBucket string
	curPath   string
	f         *os.File
	enc       *zstd.Encoder
	w         *bufio.Writer
	lines     uint64
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		layout:  HourLayout,
	}
}

// SetRotateLayout changes the time layout used to bucket segments. Finer
// layouts produce smaller segments and let mirrors upload sooner.
func (w *JSONLZstdWriter) SetRotateLayout(layout string) {
	if layout == "" {
		return
	}
	w.mu.Lock()
	w.layout = layout
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	path := w.curPath
	err := w.closeLocked()
	w.curBucket = ""
	w.notify(path)
	return err
}

// Lines returns how many lines were written since creation.
func (w *JSONLZstdWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	bucket := now().UTC().Format(w.layout)
	if bucket != w.curBucket {
		prev := w.curPath
		if err := w.rotateLocked(bucket); err != nil {
			return err
		}
		w.notify(prev)
	}

	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	return w.w.Flush()
}

func (w *JSONLZstdWriter) notify(path string) {
	if path != "" && w.OnRotate != nil {
		w.OnRotate(path)
	}
}

func (w *JSONLZstdWriter) rotateLocked(bucket string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	p := w.pathFor(bucket)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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
	w.curBucket = bucket
	w.curPath = p
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
	w.curPath = ""
	return err1
}

func (w *JSONLZstdWriter) pathFor(bucket string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, bucket))
}
