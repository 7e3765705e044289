package stripmine

import (
	"fmt"
	"testing"

	"voxelwatch.ai/internal/track/geom"
)

func TestDetector_FiresOnHorizontalTunnel(t *testing.T) {
	d := New(DefaultConfig())
	fired := 0
	var last Notice
	for z := 0; z < 10; z++ {
		if n, ok := d.Observe(geom.Vec3i{X: 0, Y: 30, Z: z}); ok {
			fired++
			last = n
			if z != 9 {
				t.Fatalf("fired early at z=%d", z)
			}
		}
	}
	if fired != 1 {
		t.Fatalf("expected exactly one notice, got %d", fired)
	}
	if last.First != (geom.Vec3i{Y: 30}) || last.Last != (geom.Vec3i{Y: 30, Z: 9}) || last.Samples != 10 {
		t.Fatalf("notice mismatch: %+v", last)
	}
}

func TestDetector_IgnoresTightCluster(t *testing.T) {
	d := New(DefaultConfig())
	for i := 0; i < 3; i++ {
		for x := 0; x < 2; x++ {
			for y := 20; y < 22; y++ {
				for z := 0; z < 2; z++ {
					if _, ok := d.Observe(geom.Vec3i{X: x, Y: y, Z: z}); ok {
						t.Fatalf("cluster must not be flagged")
					}
				}
			}
		}
	}
	if d.Len() != 20 {
		t.Fatalf("buffer should be capped at 20, got %d", d.Len())
	}
}

func TestDetector_IgnoresShallowBreaks(t *testing.T) {
	d := New(DefaultConfig())
	for x := 0; x < 30; x++ {
		if _, ok := d.Observe(geom.Vec3i{X: x, Y: 64, Z: 0}); ok {
			t.Fatalf("surface breaks must not be recorded")
		}
	}
	if d.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", d.Len())
	}
}

func TestDetector_LongTunnelKeepsFiring(t *testing.T) {
	d := New(DefaultConfig())
	fired := 0
	var last Notice
	for z := 0; z < 40; z++ {
		if n, ok := d.Observe(geom.Vec3i{X: 0, Y: 30, Z: z}); ok {
			fired++
			last = n
		}
	}
	// From the 10th sample on, every break qualifies.
	if fired != 31 {
		t.Fatalf("expected 31 notices, got %d", fired)
	}
	if last.First != (geom.Vec3i{Y: 30, Z: 20}) || last.Last != (geom.Vec3i{Y: 30, Z: 39}) || last.Samples != 20 {
		t.Fatalf("last notice should cover the sliding window: %+v", last)
	}
}

func TestDetector_FiresAgainOnLaterWindow(t *testing.T) {
	d := New(DefaultConfig())
	var hits []int
	step := 0
	observe := func(p geom.Vec3i) {
		step++
		if _, ok := d.Observe(p); ok {
			hits = append(hits, step)
		}
	}
	for x := 0; x < 12; x++ {
		observe(geom.Vec3i{X: x, Y: 11, Z: 0})
	}
	// Dig a shaft down. The window stays flat for two more breaks.
	for y := 10; y > 0; y-- {
		observe(geom.Vec3i{X: 11, Y: y, Z: 0})
	}
	if got := fmt.Sprint(hits); got != "[10 11 12 13 14]" {
		t.Fatalf("first tunnel notices: %s", got)
	}
	// A second tunnel at the new depth matches once the shaft slides out.
	for z := 1; z <= 20; z++ {
		observe(geom.Vec3i{X: 11, Y: 1, Z: z})
	}
	if got := fmt.Sprint(hits); got != "[10 11 12 13 14 39 40 41 42]" {
		t.Fatalf("second tunnel notices: %s", got)
	}
}
