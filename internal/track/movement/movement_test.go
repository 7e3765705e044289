package movement

import (
	"math"
	"testing"

	"voxelwatch.ai/internal/track/geom"
)

func TestTracker_DistanceWithTeleportRejection(t *testing.T) {
	tr := New(100)
	steps := []geom.Vec3{
		geom.V(0, 64, 0),
		geom.V(3, 64, 4),
		geom.V(3, 64, 10),
		geom.V(500, 70, 500),
		geom.V(500, 70, 510),
	}
	accepted := 0
	for _, p := range steps {
		if tr.Observe(p) {
			accepted++
		}
	}
	if accepted != 4 {
		t.Fatalf("expected 4 accepted samples, got %d", accepted)
	}
	if math.Abs(tr.Total()-21) > 1e-9 {
		t.Fatalf("total mismatch: %v", tr.Total())
	}
	if tr.Rejected() != 1 {
		t.Fatalf("expected one teleport rejection, got %d", tr.Rejected())
	}
}

func TestTracker_RejectsNonFinite(t *testing.T) {
	tr := New(100)
	tr.Observe(geom.V(0, 0, 0))
	if tr.Observe(geom.V(math.NaN(), 0, 0)) {
		t.Fatalf("NaN position must be rejected")
	}
	tr.Observe(geom.V(1, 0, 0))
	if tr.Total() != 1 {
		t.Fatalf("total should ignore NaN sample, got %v", tr.Total())
	}
}
