package geom

import "math"

// Bounds accumulates the inclusive integer bounding box of a set of block
// positions. The zero value is empty.
type Bounds struct {
	Min, Max Vec3i
	set      bool
}

func (b *Bounds) Empty() bool { return !b.set }

func (b *Bounds) Reset() { *b = Bounds{} }

// Include expands b to contain p.
func (b *Bounds) Include(p Vec3i) {
	if !b.set {
		b.Min, b.Max, b.set = p, p, true
		return
	}
	b.Min.X = min(b.Min.X, p.X)
	b.Min.Y = min(b.Min.Y, p.Y)
	b.Min.Z = min(b.Min.Z, p.Z)
	b.Max.X = max(b.Max.X, p.X)
	b.Max.Y = max(b.Max.Y, p.Y)
	b.Max.Z = max(b.Max.Z, p.Z)
}

// Size returns width (x), height (y) and depth (z) as max-min+1 per axis.
// An empty box has size 0,0,0.
func (b *Bounds) Size() (w, h, d int) {
	if !b.set {
		return 0, 0, 0
	}
	return b.Max.X - b.Min.X + 1, b.Max.Y - b.Min.Y + 1, b.Max.Z - b.Min.Z + 1
}

// AABB is a continuous axis-aligned box.
type AABB struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// BoxAround returns the cube of half-size r centered at c.
func BoxAround(c Vec3, r float64) AABB {
	d := Vec3{r, r, r}
	return AABB{Min: c.Sub(d), Max: c.Add(d)}
}

// Span returns the box enclosing the segment a..b.
func Span(a, b Vec3) AABB {
	return AABB{
		Min: Vec3{math.Min(a.X, b.X), math.Min(a.Y, b.Y), math.Min(a.Z, b.Z)},
		Max: Vec3{math.Max(a.X, b.X), math.Max(a.Y, b.Y), math.Max(a.Z, b.Z)},
	}
}

func (b AABB) Expand(r float64) AABB {
	d := Vec3{r, r, r}
	return AABB{Min: b.Min.Sub(d), Max: b.Max.Add(d)}
}

func (b AABB) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func (b AABB) Intersects(o AABB) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

func (b AABB) Center() Vec3 { return b.Min.Add(b.Max).Scale(0.5) }

// BlockBox returns the unit box occupied by the block at p.
func BlockBox(p Vec3i) AABB {
	min := Vec3{float64(p.X), float64(p.Y), float64(p.Z)}
	return AABB{Min: min, Max: min.Add(Vec3{1, 1, 1})}
}

// SegmentHit intersects the segment from..to with b using the slab method.
// It returns the first hit point and its distance from from. A segment that
// starts inside b hits at from.
func (b AABB) SegmentHit(from, to Vec3) (Vec3, float64, bool) {
	dir := to.Sub(from)
	tmin, tmax := 0.0, 1.0
	o := from.ToArray()
	d := dir.ToArray()
	lo := b.Min.ToArray()
	hi := b.Max.ToArray()
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < 1e-12 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return Vec3{}, 0, false
			}
			continue
		}
		inv := 1 / d[i]
		t1 := (lo[i] - o[i]) * inv
		t2 := (hi[i] - o[i]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return Vec3{}, 0, false
		}
	}
	hit := from.Add(dir.Scale(tmin))
	return hit, dir.Len() * tmin, true
}
