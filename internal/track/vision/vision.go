// Package vision computes, once per tick, which entities an actor can see and
// which single entity it is looking at. The engine holds no state between
// calls; diffing consecutive snapshots is done by Diff.
package vision

import (
	"errors"
	"math"
	"sort"

	"voxelwatch.ai/internal/track/geom"
)

var ErrNotLoaded = errors.New("actor not loaded")

// Ref identifies an entity across ticks.
type Ref struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type Entity struct {
	Ref
	// Pos is the entity's feet position.
	Pos    geom.Vec3 `json:"pos"`
	Height float64   `json:"height"`
	Width  float64   `json:"width"`
}

const defaultEntityWidth = 0.6

// Bounds is the entity's collision box.
func (e Entity) Bounds() geom.AABB {
	w := e.Width
	if w <= 0 {
		w = defaultEntityWidth
	}
	h := e.height()
	half := w / 2
	return geom.AABB{
		Min: geom.Vec3{X: e.Pos.X - half, Y: e.Pos.Y, Z: e.Pos.Z - half},
		Max: geom.Vec3{X: e.Pos.X + half, Y: e.Pos.Y + h, Z: e.Pos.Z + half},
	}
}

// Center is the point used for distance, field-of-view and occlusion tests.
func (e Entity) Center() geom.Vec3 {
	return e.Pos.Add(geom.Vec3{Y: e.height() / 2})
}

func (e Entity) height() float64 {
	if e.Height <= 0 {
		return 1
	}
	return e.Height
}

type Pose struct {
	Eye  geom.Vec3 `json:"eye"`
	Look geom.Vec3 `json:"look"`
}

type Hit struct {
	Pos geom.Vec3
}

// WorldQuery is the host-provided geometry. Raycast reports the first
// obstruction on the segment from..to, if any.
type WorldQuery interface {
	EntitiesNear(center geom.Vec3, radius float64) ([]Entity, error)
	Raycast(from, to geom.Vec3) (Hit, bool)
}

type Config struct {
	MaxViewDistance    float64
	HalfAngleDeg       float64
	PreciseDistance    float64
	OcclusionTolerance float64
}

func DefaultConfig() Config {
	return Config{MaxViewDistance: 64, HalfAngleDeg: 35, PreciseDistance: 20, OcclusionTolerance: 1}
}

// State is one tick's snapshot. Unknown marks a tick where the world could not
// be queried; such a state carries no information and must not be diffed.
type State struct {
	Visible   map[Ref]struct{}
	LookingAt *Ref
	Unknown   bool
}

func (s State) Sees(r Ref) bool {
	_, ok := s.Visible[r]
	return ok
}

// Sorted returns the visible set in a stable order.
func (s State) Sorted() []Ref {
	out := make([]Ref, 0, len(s.Visible))
	for r := range s.Visible {
		out = append(out, r)
	}
	sortRefs(out)
	return out
}

type Engine struct {
	cfg     Config
	cosHalf float64
}

func NewEngine(cfg Config) *Engine {
	d := DefaultConfig()
	if cfg.MaxViewDistance <= 0 {
		cfg.MaxViewDistance = d.MaxViewDistance
	}
	if cfg.HalfAngleDeg <= 0 || cfg.HalfAngleDeg > 180 {
		cfg.HalfAngleDeg = d.HalfAngleDeg
	}
	if cfg.PreciseDistance <= 0 {
		cfg.PreciseDistance = d.PreciseDistance
	}
	if cfg.OcclusionTolerance < 0 {
		cfg.OcclusionTolerance = 0
	}
	return &Engine{cfg: cfg, cosHalf: math.Cos(cfg.HalfAngleDeg * math.Pi / 180)}
}

func (e *Engine) Config() Config { return e.cfg }

// Update recomputes the snapshot from scratch.
func (e *Engine) Update(pose Pose, world WorldQuery) State {
	look := pose.Look.Normalize()
	if world == nil || !pose.Eye.IsFinite() || !look.IsFinite() || look == (geom.Vec3{}) {
		return State{Unknown: true}
	}
	radius := math.Max(e.cfg.MaxViewDistance, e.cfg.PreciseDistance)
	ents, err := world.EntitiesNear(pose.Eye, radius)
	if err != nil {
		return State{Unknown: true}
	}

	st := State{Visible: map[Ref]struct{}{}}
	for _, ent := range ents {
		if e.canSee(pose.Eye, look, ent, world) {
			st.Visible[ent.Ref] = struct{}{}
		}
	}
	st.LookingAt = e.lookTarget(pose.Eye, look, ents, world)
	return st
}

func (e *Engine) canSee(eye, look geom.Vec3, ent Entity, world WorldQuery) bool {
	target := ent.Center()
	dist := eye.Dist(target)
	if dist > e.cfg.MaxViewDistance {
		return false
	}
	if dist > 0 && look.Dot(target.Sub(eye).Scale(1/dist)) < e.cosHalf {
		return false
	}
	return e.clear(eye, target, dist, world)
}

// clear reports whether nothing obstructs eye..target before the target itself.
func (e *Engine) clear(eye, target geom.Vec3, dist float64, world WorldQuery) bool {
	hit, blocked := world.Raycast(eye, target)
	if !blocked {
		return true
	}
	return eye.Dist(hit.Pos) >= dist-e.cfg.OcclusionTolerance
}

// lookTarget picks the entity whose box the look ray enters first. Exact ties
// keep the first candidate in query order.
func (e *Engine) lookTarget(eye, look geom.Vec3, ents []Entity, world WorldQuery) *Ref {
	end := eye.Add(look.Scale(e.cfg.PreciseDistance))
	reach := geom.Span(eye, end).Expand(1)

	var best *Ref
	bestDist := e.cfg.PreciseDistance
	for i := range ents {
		box := ents[i].Bounds()
		if !box.Intersects(reach) {
			continue
		}
		hitPos, d, ok := box.SegmentHit(eye, end)
		if !ok || d >= bestDist {
			continue
		}
		if !e.clear(eye, hitPos, d, world) {
			continue
		}
		ref := ents[i].Ref
		best = &ref
		bestDist = d
	}
	return best
}

func sortRefs(rs []Ref) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Type != rs[j].Type {
			return rs[i].Type < rs[j].Type
		}
		return rs[i].ID < rs[j].ID
	})
}
