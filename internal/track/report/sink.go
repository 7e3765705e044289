package report

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Sink accepts finished envelopes. Emit must not block the caller for long;
// slow destinations belong behind an Async sink.
type Sink interface {
	Emit(Envelope)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Envelope)

func (f SinkFunc) Emit(e Envelope) { f(e) }

// Discard drops everything.
var Discard Sink = SinkFunc(func(Envelope) {})

// Fanout emits to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Envelope) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Async decouples a sink from its producers with a bounded queue. When the
// queue is full the envelope is dropped and counted.
type Async struct {
	name   string
	next   Sink
	logger *log.Logger
	ch     chan Envelope

	dropped atomic.Uint64
	closed  atomic.Bool

	mu   sync.RWMutex
	done chan struct{}
}

func NewAsync(name string, next Sink, buffer int, logger *log.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		name:   name,
		next:   next,
		logger: logger,
		ch:     make(chan Envelope, buffer),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) Emit(e Envelope) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		a.drop()
		return
	}
	select {
	case a.ch <- e:
	default:
		a.drop()
	}
}

func (a *Async) drop() {
	n := a.dropped.Add(1)
	if a.logger != nil && (n == 1 || n%1000 == 0) {
		a.logger.Printf("%s: queue full, dropped=%d", a.name, n)
	}
}

func (a *Async) Dropped() uint64 { return a.dropped.Load() }

func (a *Async) Pending() int { return len(a.ch) }

// Close stops accepting envelopes and waits for the queue to drain or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed.Swap(true) {
		close(a.ch)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for e := range a.ch {
		a.next.Emit(e)
	}
}
