package session

import (
	"testing"

	"voxelwatch.ai/internal/track/geom"
	"voxelwatch.ai/internal/track/shape"
)

func miningConfig() Config {
	return Config{Name: "mining", QuietTimeoutMs: 2000, PeriodicIntervalMs: 5000}
}

func constructionConfig() Config {
	return Config{Name: "construction", QuietTimeoutMs: 3000, PeriodicIntervalMs: 30000, TrackGeometry: true}
}

func TestTracker_IdleUntilFirstContribution(t *testing.T) {
	tr := New(miningConfig())
	if tr.Active() {
		t.Fatalf("new tracker should be idle")
	}
	for _, now := range []int64{0, 1000, 10_000, 100_000} {
		if tr.ShouldFlush(now) {
			t.Fatalf("idle tracker should never flush (now=%d)", now)
		}
		if _, ok := tr.Flush(now); ok {
			t.Fatalf("idle tracker produced a report at %d", now)
		}
	}
	_, hasStale, started := tr.Contribute(Contribution{Kind: "stone", At: 42})
	if hasStale || !started {
		t.Fatalf("first contribution: hasStale=%v started=%v", hasStale, started)
	}
	if !tr.Active() || tr.StartedAt() != 42 {
		t.Fatalf("expected active session started at 42, got active=%v started=%d", tr.Active(), tr.StartedAt())
	}
}

func TestTracker_MiningBurstFinal(t *testing.T) {
	tr := New(miningConfig())
	for i := int64(0); i < 6; i++ {
		tr.Contribute(Contribution{Kind: "coal_ore", At: i * 500})
	}
	if tr.ShouldFlush(3000) {
		t.Fatalf("no flush condition should hold at t=3000")
	}
	if _, ok := tr.Flush(3000); ok {
		t.Fatalf("flush without condition must not report")
	}
	if !tr.ShouldFlush(5100) {
		t.Fatalf("quiet timeout should hold at t=5100")
	}
	r, ok := tr.Flush(5100)
	if !ok {
		t.Fatalf("expected final report")
	}
	if r.Kind != Final || r.Active {
		t.Fatalf("expected inactive FINAL, got kind=%s active=%v", r.Kind, r.Active)
	}
	if len(r.Counts) != 1 || r.Counts["coal_ore"] != 6 {
		t.Fatalf("counts mismatch: %v", r.Counts)
	}
	if r.DurationMs != 5100 {
		t.Fatalf("duration mismatch: %d", r.DurationMs)
	}
	if r.Dimensions != nil || r.Shape != "" {
		t.Fatalf("mining report should not carry geometry: %+v", r)
	}
	if tr.Active() {
		t.Fatalf("tracker should be idle after final")
	}
}

func TestTracker_ConstructionLineFinal(t *testing.T) {
	tr := New(constructionConfig())
	for x := 0; x <= 8; x++ {
		p := geom.Vec3i{X: x, Y: 10, Z: 10}
		tr.Contribute(Contribution{Kind: "oak_planks", At: int64(x) * 100, Pos: &p})
	}
	if tr.ShouldFlush(3500) {
		t.Fatalf("quiet timeout not reached at 3500")
	}
	r, ok := tr.Flush(4000)
	if !ok || r.Kind != Final {
		t.Fatalf("expected final report, ok=%v kind=%s", ok, r.Kind)
	}
	if r.Dimensions == nil || *r.Dimensions != (Dimensions{Width: 9, Height: 1, Depth: 1}) {
		t.Fatalf("dimensions mismatch: %+v", r.Dimensions)
	}
	if r.Shape != shape.Line {
		t.Fatalf("expected LINE, got %s", r.Shape)
	}
	if r.Min == nil || *r.Min != (geom.Vec3i{X: 0, Y: 10, Z: 10}) {
		t.Fatalf("min mismatch: %+v", r.Min)
	}
}

func TestTracker_PeriodicWindowsPartitionTotals(t *testing.T) {
	tr := New(miningConfig())
	kinds := []string{"stone", "coal_ore", "stone", "iron_ore"}

	var periodic []Report
	var final *Report
	next := 0
	for now := int64(0); now <= 20_000; now += 100 {
		if now <= 12_000 && now%400 == 0 {
			tr.Contribute(Contribution{Kind: kinds[next%len(kinds)], At: now})
			next++
		}
		if !tr.ShouldFlush(now) {
			continue
		}
		r, ok := tr.Flush(now)
		if !ok {
			continue
		}
		if r.Kind == Final {
			rr := r
			final = &rr
			continue
		}
		periodic = append(periodic, r)
	}
	if final == nil {
		t.Fatalf("expected a final report")
	}
	if len(periodic) != 2 {
		t.Fatalf("expected 2 periodic reports, got %d", len(periodic))
	}
	if periodic[0].FlushedAt != 5000 || periodic[1].FlushedAt != 10_000 {
		t.Fatalf("periodic cadence mismatch: %d, %d", periodic[0].FlushedAt, periodic[1].FlushedAt)
	}
	if final.FlushedAt != 14_100 {
		t.Fatalf("final flushed at %d, want 14100", final.FlushedAt)
	}

	sum := map[string]int{}
	for _, r := range periodic {
		if !r.Active || r.Kind != Periodic {
			t.Fatalf("periodic report should be active: %+v", r)
		}
		if r.DurationMs != r.FlushedAt {
			t.Fatalf("duration must be session lifetime: %d at %d", r.DurationMs, r.FlushedAt)
		}
		for k, v := range r.Counts {
			sum[k] += v
		}
	}
	for k, v := range final.Delta {
		sum[k] += v
	}
	if len(sum) != len(final.Counts) {
		t.Fatalf("partition mismatch: sum=%v final=%v", sum, final.Counts)
	}
	for k, v := range final.Counts {
		if sum[k] != v {
			t.Fatalf("partition mismatch for %s: sum=%d final=%d", k, sum[k], v)
		}
	}
	if Total(final.Counts) != next {
		t.Fatalf("final total %d, contributed %d", Total(final.Counts), next)
	}
}

func TestTracker_EmptyPeriodicSuppressed(t *testing.T) {
	tr := New(Config{Name: "slow", QuietTimeoutMs: 10_000, PeriodicIntervalMs: 1000})
	tr.Contribute(Contribution{Kind: "a", At: 0})
	r, ok := tr.Flush(1000)
	if !ok || r.Kind != Periodic || r.Counts["a"] != 1 {
		t.Fatalf("expected periodic with a=1, got ok=%v %+v", ok, r)
	}
	if !tr.ShouldFlush(2000) {
		t.Fatalf("periodic interval elapsed, ShouldFlush should be true")
	}
	if _, ok := tr.Flush(2000); ok {
		t.Fatalf("empty periodic window must not produce a report")
	}
	if !tr.Active() {
		t.Fatalf("session should remain active")
	}
	if tr.ShouldFlush(2500) {
		t.Fatalf("window should have advanced to 2000")
	}
}

func TestTracker_RapidRestartKeepsSessionsApart(t *testing.T) {
	tr := New(miningConfig())
	tr.Contribute(Contribution{Kind: "stone", At: 0})
	tr.Contribute(Contribution{Kind: "stone", At: 100})

	stale, hasStale, started := tr.Contribute(Contribution{Kind: "dirt", At: 9000})
	if !hasStale || !started {
		t.Fatalf("expected stale final and new session, hasStale=%v started=%v", hasStale, started)
	}
	if stale.Kind != Final || stale.Counts["stone"] != 2 || stale.Counts["dirt"] != 0 {
		t.Fatalf("stale final mismatch: %+v", stale)
	}
	r, ok := tr.Flush(12_000)
	if !ok || r.Kind != Final {
		t.Fatalf("expected final for second session")
	}
	if len(r.Counts) != 1 || r.Counts["dirt"] != 1 || r.StartedAt != 9000 {
		t.Fatalf("second session mismatch: %+v", r)
	}
}

func TestTracker_ForceFinal(t *testing.T) {
	tr := New(constructionConfig())
	p := geom.Vec3i{X: 1, Y: 2, Z: 3}
	tr.Contribute(Contribution{Kind: "stone", At: 10, Pos: &p})
	r, ok := tr.ForceFinal(20)
	if !ok || r.Kind != Final || r.Active {
		t.Fatalf("expected inactive final, got ok=%v %+v", ok, r)
	}
	if r.Shape != shape.Cube {
		t.Fatalf("single block should classify as cube, got %s", r.Shape)
	}
	if _, ok := tr.ForceFinal(30); ok {
		t.Fatalf("idle tracker should not force a report")
	}
}

func TestTracker_OutOfOrderTimestampsClamped(t *testing.T) {
	tr := New(miningConfig())
	tr.Contribute(Contribution{Kind: "stone", At: 1000})
	tr.Contribute(Contribution{Kind: "stone", At: 900})
	if tr.ShouldFlush(2900) {
		t.Fatalf("late timestamp must not move last contribution backwards")
	}
	if !tr.ShouldFlush(3001) {
		t.Fatalf("expected quiet timeout at 3001")
	}
}
