package stripmine

import "voxelwatch.ai/internal/track/geom"

type Config struct {
	// DepthThreshold: only breaks with Y strictly below it are recorded.
	DepthThreshold int
	Capacity       int
	MinSamples     int
	// MaxRise is the largest |dy| between the oldest and newest sample.
	MaxRise int
	// MinRun is the horizontal |dx| or |dz| that must be exceeded.
	MinRun int
}

func DefaultConfig() Config {
	return Config{DepthThreshold: 40, Capacity: 20, MinSamples: 10, MaxRise: 2, MinRun: 5}
}

// Notice is a one-shot strip-mining detection. It is not a session report.
type Notice struct {
	Y       int        `json:"y"`
	First   geom.Vec3i `json:"first"`
	Last    geom.Vec3i `json:"last"`
	Samples int        `json:"samples"`
}

// Detector keeps a fixed-capacity FIFO of deep break positions and flags
// roughly horizontal runs. Linearity is judged from the oldest and newest
// sample only; a winding path with a large net displacement also matches.
// Every deep break whose window matches yields a notice, so a long tunnel
// keeps firing as positions slide through the buffer.
type Detector struct {
	cfg  Config
	buf  []geom.Vec3i
	head int
	n    int
}

func New(cfg Config) *Detector {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.MinSamples <= 0 || cfg.MinSamples > cfg.Capacity {
		cfg.MinSamples = cfg.Capacity
	}
	return &Detector{cfg: cfg, buf: make([]geom.Vec3i, cfg.Capacity)}
}

// Len returns the number of buffered positions.
func (d *Detector) Len() int { return d.n }

// Observe records a break at p and reports whether the pattern fired.
func (d *Detector) Observe(p geom.Vec3i) (Notice, bool) {
	if p.Y >= d.cfg.DepthThreshold {
		return Notice{}, false
	}
	d.push(p)
	if d.n < d.cfg.MinSamples {
		return Notice{}, false
	}
	first, last := d.at(0), d.at(d.n-1)
	if !d.linear(first, last) {
		return Notice{}, false
	}
	return Notice{Y: p.Y, First: first, Last: last, Samples: d.n}, true
}

// Reset drops all buffered positions.
func (d *Detector) Reset() {
	d.head, d.n = 0, 0
}

func (d *Detector) linear(first, last geom.Vec3i) bool {
	dy := geom.AbsInt(last.Y - first.Y)
	dx := geom.AbsInt(last.X - first.X)
	dz := geom.AbsInt(last.Z - first.Z)
	return dy <= d.cfg.MaxRise && (dx > d.cfg.MinRun || dz > d.cfg.MinRun)
}

func (d *Detector) push(p geom.Vec3i) {
	c := len(d.buf)
	if d.n < c {
		d.buf[(d.head+d.n)%c] = p
		d.n++
		return
	}
	d.buf[d.head] = p
	d.head = (d.head + 1) % c
}

// at returns the i-th oldest buffered position.
func (d *Detector) at(i int) geom.Vec3i {
	return d.buf[(d.head+i)%len(d.buf)]
}
