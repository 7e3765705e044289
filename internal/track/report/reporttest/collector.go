// Package reporttest provides an in-memory report.Sink for tests.
package reporttest

import (
	"sync"

	"voxelwatch.ai/internal/track/report"
)

// Collector records envelopes in memory. Safe for concurrent use.
type Collector struct {
	mu  sync.Mutex
	out []report.Envelope
}

func (c *Collector) Emit(e report.Envelope) {
	c.mu.Lock()
	c.out = append(c.out, e)
	c.mu.Unlock()
}

// Envelopes returns a copy of everything recorded so far.
func (c *Collector) Envelopes() []report.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]report.Envelope(nil), c.out...)
}

// OfType filters recorded envelopes by type.
func (c *Collector) OfType(t report.Type) []report.Envelope {
	var res []report.Envelope
	for _, e := range c.Envelopes() {
		if e.Type == t {
			res = append(res, e)
		}
	}
	return res
}

func (c *Collector) Reset() {
	c.mu.Lock()
	c.out = nil
	c.mu.Unlock()
}
