package vision

import "voxelwatch.ai/internal/track/geom"

// Scene is a WorldQuery over a host-supplied per-tick description: the
// entities around the actor and the solid boxes that can block sight.
type Scene struct {
	Entities  []Entity
	Occluders []geom.AABB
	// Unloaded makes every query fail, as for an actor whose chunk is not loaded.
	Unloaded bool
}

func (s *Scene) EntitiesNear(center geom.Vec3, radius float64) ([]Entity, error) {
	if s == nil || s.Unloaded {
		return nil, ErrNotLoaded
	}
	area := geom.BoxAround(center, radius)
	out := make([]Entity, 0, len(s.Entities))
	for _, e := range s.Entities {
		if area.Intersects(e.Bounds()) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Scene) Raycast(from, to geom.Vec3) (Hit, bool) {
	if s == nil {
		return Hit{}, false
	}
	best := -1.0
	var hit Hit
	for _, b := range s.Occluders {
		p, d, ok := b.SegmentHit(from, to)
		if !ok {
			continue
		}
		if best < 0 || d < best {
			best = d
			hit = Hit{Pos: p}
		}
	}
	return hit, best >= 0
}
