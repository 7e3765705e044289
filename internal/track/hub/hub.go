// Package hub runs one worker goroutine per actor. Every coordinator call for
// an actor happens on that actor's worker, so per-actor state has a single
// writer while different actors proceed in parallel.
package hub

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"voxelwatch.ai/internal/track/actor"
	"voxelwatch.ai/internal/track/discovery"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/tuning"
)

var (
	ErrClosed       = errors.New("hub closed")
	ErrUnknownActor = errors.New("unknown actor")
)

const preloadTimeout = 5 * time.Second

type Config struct {
	Tuning   tuning.Tuning
	Registry *discovery.Registry
	Sink     report.Sink
	Logger   *log.Logger

	// TickInterval drives each worker's Tick. Zero disables the ticker; the
	// owner then calls Hub.Tick explicitly (replay does this).
	TickInterval time.Duration
	// Clock returns monotonic milliseconds. Defaults to time since New.
	Clock func() int64
}

type Hub struct {
	cfg Config

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

type msgKind int

const (
	msgAction msgKind = iota
	msgTick
	msgLeave
)

type msg struct {
	kind   msgKind
	at     int64
	action actor.Action
}

type worker struct {
	id    string
	inbox chan msg
	done  chan struct{}

	// mu orders sends against stop: once stopped is set no message can land
	// behind msgLeave.
	mu      sync.RWMutex
	stopped bool
}

func New(cfg Config) *Hub {
	if cfg.Sink == nil {
		cfg.Sink = report.Discard
	}
	if cfg.Registry == nil {
		cfg.Registry = discovery.NewRegistry(nil, cfg.Logger)
	}
	if cfg.Clock == nil {
		start := time.Now()
		cfg.Clock = func() int64 { return time.Since(start).Milliseconds() }
	}
	return &Hub{cfg: cfg, workers: map[string]*worker{}}
}

// Now returns the hub clock in milliseconds. Transports stamp inbound actions with it.
func (h *Hub) Now() int64 { return h.cfg.Clock() }

// Join creates the actor's worker if it does not exist yet.
func (h *Hub) Join(actorID string) error {
	_, err := h.worker(actorID, h.Now())
	return err
}

// Dispatch hands an action to the actor's worker, creating it on first use.
// It blocks only while the actor's inbox is full.
func (h *Hub) Dispatch(ctx context.Context, actorID string, a actor.Action) error {
	w, err := h.worker(actorID, a.At)
	if err != nil {
		return err
	}
	return w.send(ctx, msg{kind: msgAction, at: a.At, action: a})
}

// Tick sends an explicit tick to every worker.
func (h *Hub) Tick(ctx context.Context, now int64) error {
	for _, w := range h.snapshot() {
		if err := w.send(ctx, msg{kind: msgTick, at: now}); err != nil && !errors.Is(err, ErrUnknownActor) {
			return err
		}
	}
	return nil
}

// Leave force-finalizes the actor's trackers, emits its summary and waits
// for the worker to exit. The actor's state is gone afterwards; a later
// Dispatch starts from scratch.
func (h *Hub) Leave(ctx context.Context, actorID string, at int64) error {
	h.mu.Lock()
	w := h.workers[actorID]
	if w != nil {
		delete(h.workers, actorID)
	}
	h.mu.Unlock()
	if w == nil {
		return ErrUnknownActor
	}
	return w.stop(ctx, at)
}

// Close stops accepting work and tears down every actor.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	ws := make([]*worker, 0, len(h.workers))
	for _, w := range h.workers {
		ws = append(ws, w)
	}
	h.workers = map[string]*worker{}
	h.mu.Unlock()

	now := h.Now()
	var firstErr error
	for _, w := range ws {
		if err := w.stop(ctx, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Actors lists live actor IDs in sorted order.
func (h *Hub) Actors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.workers))
	for id := range h.workers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workers)
}

func (h *Hub) snapshot() []*worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*worker, 0, len(h.workers))
	for _, w := range h.workers {
		out = append(out, w)
	}
	return out
}

func (h *Hub) worker(actorID string, now int64) (*worker, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if w := h.workers[actorID]; w != nil {
		return w, nil
	}
	inbox := h.cfg.Tuning.Hub.InboxSize
	if inbox <= 0 {
		inbox = 256
	}
	w := &worker{id: actorID, inbox: make(chan msg, inbox), done: make(chan struct{})}
	h.workers[actorID] = w
	c := actor.New(actorID, now, h.cfg.Tuning, h.cfg.Registry, h.cfg.Sink)
	h.wg.Add(1)
	go h.run(w, c)
	return w, nil
}

func (h *Hub) run(w *worker, c *actor.Coordinator) {
	defer h.wg.Done()
	defer close(w.done)

	ctx, cancel := context.WithTimeout(context.Background(), preloadTimeout)
	if err := h.cfg.Registry.Preload(ctx, w.id); err != nil && h.cfg.Logger != nil {
		h.cfg.Logger.Printf("preload discoveries actor=%s: %v", w.id, err)
	}
	cancel()

	var tick <-chan time.Time
	if h.cfg.TickInterval > 0 {
		t := time.NewTicker(h.cfg.TickInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case m := <-w.inbox:
			switch m.kind {
			case msgAction:
				c.Handle(m.action)
			case msgTick:
				c.Tick(m.at)
			case msgLeave:
				c.Close(m.at)
				return
			}
		case <-tick:
			c.Tick(h.cfg.Clock())
		}
	}
}

func (w *worker) send(ctx context.Context, m msg) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrUnknownActor
	}
	return w.enqueue(ctx, m)
}

func (w *worker) enqueue(ctx context.Context, m msg) error {
	select {
	case w.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) stop(ctx context.Context, at int64) error {
	w.mu.Lock()
	already := w.stopped
	w.stopped = true
	w.mu.Unlock()
	if !already {
		if err := w.enqueue(ctx, msg{kind: msgLeave, at: at}); err != nil {
			return err
		}
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
