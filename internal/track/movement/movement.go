package movement

import "voxelwatch.ai/internal/track/geom"

// Tracker accumulates travelled distance from successive positions. A step
// longer than TeleportDistance is treated as a teleport: it is excluded from
// the total, but the new position becomes the reference for the next step.
type Tracker struct {
	TeleportDistance float64

	last     geom.Vec3
	hasLast  bool
	total    float64
	rejected int
}

func New(teleportDistance float64) *Tracker {
	return &Tracker{TeleportDistance: teleportDistance}
}

// Observe records a position and reports whether its step was counted.
func (t *Tracker) Observe(p geom.Vec3) bool {
	if !p.IsFinite() {
		t.rejected++
		return false
	}
	if !t.hasLast {
		t.last, t.hasLast = p, true
		return true
	}
	step := t.last.Dist(p)
	t.last = p
	if t.TeleportDistance > 0 && step > t.TeleportDistance {
		t.rejected++
		return false
	}
	t.total += step
	return true
}

func (t *Tracker) Total() float64 { return t.total }

// Rejected counts samples discarded as teleports or invalid positions.
func (t *Tracker) Rejected() int { return t.rejected }
