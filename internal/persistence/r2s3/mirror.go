package r2s3

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the object-store side of a Mirror. *Client implements it.
type Uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	EnqueuedTotal      uint64
	DuplicateTotal     uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastErrorUnix      int64
	LastLagMs          int64
}

type MirrorConfig struct {
	// DataDir is the local root; object keys are paths relative to it.
	DataDir string
	Prefix  string

	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long Enqueue waits on a full queue before dropping.
	EnqueueWait time.Duration
	MaxAttempts int
	// Backoff returns the delay before retry attempt n (1-based).
	Backoff func(attempt int) time.Duration
}

func (c MirrorConfig) withDefaults() MirrorConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 2048
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = 25 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.Backoff == nil {
		c.Backoff = func(n int) time.Duration { return time.Duration(n*n) * 200 * time.Millisecond }
	}
	c.Prefix = strings.Trim(strings.ReplaceAll(c.Prefix, `\`, "/"), "/")
	return c
}

type segment struct {
	path   string
	queued time.Time
}

// Mirror copies closed log segments to object storage in the background.
// A path that is already queued or uploading is not queued twice.
type Mirror struct {
	up     Uploader
	cfg    MirrorConfig
	logger *log.Logger

	queue chan segment
	wg    sync.WaitGroup
	once  sync.Once

	mu       sync.Mutex
	inflight map[string]struct{}

	enqueued  atomic.Uint64
	duplicate atomic.Uint64
	dropped   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	lastError atomic.Int64
	lastLagMs atomic.Int64
}

func NewMirror(up Uploader, cfg MirrorConfig, logger *log.Logger) *Mirror {
	cfg = cfg.withDefaults()
	m := &Mirror{
		up:       up,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan segment, cfg.QueueCapacity),
		inflight: map[string]struct{}{},
	}
	m.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go m.work()
	}
	return m
}

// Enqueue schedules a segment for upload. It never blocks longer than
// EnqueueWait, so it is safe to call from a writer's rotate hook.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	m.enqueued.Add(1)
	if !m.claim(localPath) {
		m.duplicate.Add(1)
		return
	}
	seg := segment{path: localPath, queued: time.Now()}

	timer := time.NewTimer(m.cfg.EnqueueWait)
	defer timer.Stop()
	select {
	case m.queue <- seg:
	case <-timer.C:
		m.release(localPath)
		n := m.dropped.Add(1)
		m.printf("mirror drop local=%s wait_ms=%d dropped_total=%d", localPath, m.cfg.EnqueueWait.Milliseconds(), n)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.queue)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.queue),
		QueueCapacity:      cap(m.queue),
		EnqueuedTotal:      m.enqueued.Load(),
		DuplicateTotal:     m.duplicate.Load(),
		DroppedTotal:       m.dropped.Load(),
		UploadSuccessTotal: m.succeeded.Load(),
		UploadFailTotal:    m.failed.Load(),
		LastErrorUnix:      m.lastError.Load(),
		LastLagMs:          m.lastLagMs.Load(),
	}
}

func (m *Mirror) claim(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[p]; busy {
		return false
	}
	m.inflight[p] = struct{}{}
	return true
}

func (m *Mirror) release(p string) {
	m.mu.Lock()
	delete(m.inflight, p)
	m.mu.Unlock()
}

func (m *Mirror) work() {
	defer m.wg.Done()
	for seg := range m.queue {
		m.upload(seg)
		m.release(seg.path)
	}
}

func (m *Mirror) upload(seg segment) {
	key, err := m.keyFor(seg.path)
	if err != nil {
		m.printf("mirror skip local=%s err=%v", seg.path, err)
		return
	}
	attempts, err := m.put(key, seg.path)
	if err != nil {
		m.failed.Add(1)
		m.lastError.Store(time.Now().Unix())
		m.printf("mirror upload failed key=%s attempts=%d err=%v", key, attempts, err)
		return
	}
	m.succeeded.Add(1)
	lag := time.Since(seg.queued)
	m.lastLagMs.Store(lag.Milliseconds())
	m.printf("mirror uploaded key=%s attempts=%d lag=%s", key, attempts, lag.Round(time.Millisecond))
}

// put tries the upload up to MaxAttempts times and returns the attempt count.
func (m *Mirror) put(key, localPath string) (int, error) {
	for n := 1; ; n++ {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil || n >= m.cfg.MaxAttempts {
			return n, err
		}
		time.Sleep(m.cfg.Backoff(n))
	}
}

// keyFor maps a file under DataDir to its object key.
func (m *Mirror) keyFor(localPath string) (string, error) {
	if localPath == "" {
		return "", errors.New("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.cfg.DataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path %s is outside data dir %s", abs, base)
	}
	return path.Join(m.cfg.Prefix, filepath.ToSlash(rel)), nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
