package actor

import "voxelwatch.ai/internal/track/report"

// recentRing keeps the newest entries with FIFO eviction at capacity.
type recentRing struct {
	buf  []report.RecentAction
	head int
	n    int
}

func newRecentRing(capacity int) *recentRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &recentRing{buf: make([]report.RecentAction, capacity)}
}

func (r *recentRing) add(a report.RecentAction) {
	idx := (r.head + r.n) % len(r.buf)
	if r.n == len(r.buf) {
		r.buf[r.head] = a
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[idx] = a
	r.n++
}

// list returns entries oldest first.
func (r *recentRing) list() []report.RecentAction {
	out := make([]report.RecentAction, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
