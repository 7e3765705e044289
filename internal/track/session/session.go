// Package session implements the windowed session tracker shared by the
// mining and construction trackers.
//
// A tracker is Idle until the first contribution, then Active. While Active,
// the owner polls ShouldFlush on its tick cadence and calls Flush when it
// returns true. A flush after the quiet timeout produces a FINAL report with
// whole-session totals and returns the tracker to Idle; otherwise it produces
// a PERIODIC report with the counts accumulated since the previous flush.
//
// Timestamps are monotonic milliseconds. Trackers are not safe for concurrent
// use; the owning actor worker serializes every call.
package session

import (
	"voxelwatch.ai/internal/track/geom"
	"voxelwatch.ai/internal/track/shape"
)

type Kind string

const (
	Periodic Kind = "PERIODIC"
	Final    Kind = "FINAL"
)

type Config struct {
	// Name labels reports ("mining", "construction").
	Name string

	QuietTimeoutMs     int64
	PeriodicIntervalMs int64

	// TrackGeometry enables the bounding box and shape classification on
	// FINAL reports.
	TrackGeometry bool
}

// Contribution is one atomic event fed into a tracker.
type Contribution struct {
	Kind string
	At   int64
	Pos  *geom.Vec3i
}

// Dimensions are width (x), height (y) and depth (z) of a session's bounding box.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Depth  int `json:"depth"`
}

// Report is an immutable flush result. The tracker keeps no reference to it.
type Report struct {
	Tracker string `json:"tracker"`
	Kind    Kind   `json:"kind"`
	Active  bool   `json:"active"`

	// Counts is the reported tally: since the previous flush for PERIODIC,
	// whole-session totals for FINAL.
	Counts map[string]int `json:"counts"`
	// Delta is always the since-previous-flush tally. For PERIODIC it equals Counts.
	Delta map[string]int `json:"delta"`

	StartedAt  int64 `json:"started_at"`
	FlushedAt  int64 `json:"flushed_at"`
	DurationMs int64 `json:"duration_ms"`

	Dimensions *Dimensions `json:"dimensions,omitempty"`
	Min        *geom.Vec3i `json:"min,omitempty"`
	Max        *geom.Vec3i `json:"max,omitempty"`
	Shape      shape.Tag   `json:"shape,omitempty"`
}

// Total sums the values of a count map.
func Total(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

type Tracker struct {
	cfg Config

	active             bool
	startedAt          int64
	lastContributionAt int64
	lastFlushAt        int64

	sinceFlush map[string]int
	total      map[string]int
	bounds     geom.Bounds
}

func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:        cfg,
		sinceFlush: map[string]int{},
		total:      map[string]int{},
	}
}

func (t *Tracker) Config() Config { return t.cfg }

// Active reports whether a session is open (it may already be past its quiet
// timeout and waiting for the next flush).
func (t *Tracker) Active() bool { return t.active }

// ActiveAt reports whether a session is open and has seen a contribution
// within the quiet timeout.
func (t *Tracker) ActiveAt(now int64) bool {
	return t.active && now-t.lastContributionAt <= t.cfg.QuietTimeoutMs
}

// StartedAt returns the start of the open session (0 when Idle).
func (t *Tracker) StartedAt() int64 {
	if !t.active {
		return 0
	}
	return t.startedAt
}

// Contribute records c. If the open session already exceeded its quiet timeout
// and was never flushed, that session is finalized first and its FINAL report
// returned so that a rapid restart never merges two bursts. started is true
// when c opened a new session.
func (t *Tracker) Contribute(c Contribution) (stale Report, hasStale bool, started bool) {
	if t.active && c.At < t.lastContributionAt {
		c.At = t.lastContributionAt
	}
	if t.active && c.At-t.lastContributionAt > t.cfg.QuietTimeoutMs {
		stale, hasStale = t.final(c.At)
	}
	if !t.active {
		t.begin(c.At)
		started = true
	}
	t.sinceFlush[c.Kind]++
	t.total[c.Kind]++
	t.lastContributionAt = c.At
	if t.cfg.TrackGeometry && c.Pos != nil {
		t.bounds.Include(*c.Pos)
	}
	return stale, hasStale, started
}

func (t *Tracker) begin(now int64) {
	t.active = true
	t.startedAt = now
	t.lastFlushAt = now
	t.lastContributionAt = now
	clear(t.sinceFlush)
	clear(t.total)
	t.bounds.Reset()
}

func (t *Tracker) quiet(now int64) bool {
	return now-t.lastContributionAt > t.cfg.QuietTimeoutMs
}

// ShouldFlush reports whether Flush(now) would close a window.
func (t *Tracker) ShouldFlush(now int64) bool {
	if !t.active {
		return false
	}
	return t.quiet(now) || now-t.lastFlushAt >= t.cfg.PeriodicIntervalMs
}

// Flush closes the current window. ok is false when there is nothing to
// report: the tracker is Idle, no flush condition holds, or a periodic window
// saw no contributions.
func (t *Tracker) Flush(now int64) (Report, bool) {
	if !t.active {
		return Report{}, false
	}
	if t.quiet(now) {
		return t.final(now)
	}
	if now-t.lastFlushAt < t.cfg.PeriodicIntervalMs {
		return Report{}, false
	}
	t.lastFlushAt = now
	if len(t.sinceFlush) == 0 {
		return Report{}, false
	}
	delta := drain(t.sinceFlush)
	return Report{
		Tracker:    t.cfg.Name,
		Kind:       Periodic,
		Active:     true,
		Counts:     delta,
		Delta:      copyCounts(delta),
		StartedAt:  t.startedAt,
		FlushedAt:  now,
		DurationMs: now - t.startedAt,
	}, true
}

// ForceFinal closes an open session regardless of timing. Used on disconnect.
func (t *Tracker) ForceFinal(now int64) (Report, bool) {
	if !t.active {
		return Report{}, false
	}
	if now < t.lastContributionAt {
		now = t.lastContributionAt
	}
	return t.final(now)
}

func (t *Tracker) final(now int64) (Report, bool) {
	r := Report{
		Tracker:    t.cfg.Name,
		Kind:       Final,
		Active:     false,
		Counts:     copyCounts(t.total),
		Delta:      drain(t.sinceFlush),
		StartedAt:  t.startedAt,
		FlushedAt:  now,
		DurationMs: now - t.startedAt,
	}
	if t.cfg.TrackGeometry && !t.bounds.Empty() {
		w, h, d := t.bounds.Size()
		lo, hi := t.bounds.Min, t.bounds.Max
		r.Dimensions = &Dimensions{Width: w, Height: h, Depth: d}
		r.Min, r.Max = &lo, &hi
		r.Shape = shape.Classify(w, h, d)
	}
	t.active = false
	clear(t.total)
	t.bounds.Reset()
	if len(r.Counts) == 0 {
		return Report{}, false
	}
	return r, true
}

func drain(m map[string]int) map[string]int {
	out := copyCounts(m)
	clear(m)
	return out
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
