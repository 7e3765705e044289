package vision

// Transition is the difference between two consecutive known snapshots.
type Transition struct {
	Entered     []Ref `json:"entered,omitempty"`
	Exited      []Ref `json:"exited,omitempty"`
	LookChanged bool  `json:"look_changed,omitempty"`
	LookFrom    *Ref  `json:"look_from,omitempty"`
	LookTo      *Ref  `json:"look_to,omitempty"`
}

func (t Transition) Empty() bool {
	return len(t.Entered) == 0 && len(t.Exited) == 0 && !t.LookChanged
}

// Diff compares prev and cur without mutating either. An Unknown cur yields
// no transition; an Unknown prev is treated as an empty snapshot.
func Diff(prev, cur State) Transition {
	var t Transition
	if cur.Unknown {
		return t
	}
	for r := range cur.Visible {
		if prev.Unknown || !prev.Sees(r) {
			t.Entered = append(t.Entered, r)
		}
	}
	if !prev.Unknown {
		for r := range prev.Visible {
			if !cur.Sees(r) {
				t.Exited = append(t.Exited, r)
			}
		}
	}
	sortRefs(t.Entered)
	sortRefs(t.Exited)

	var from *Ref
	if !prev.Unknown {
		from = prev.LookingAt
	}
	if !sameRef(from, cur.LookingAt) {
		t.LookChanged = true
		t.LookFrom = from
		t.LookTo = cur.LookingAt
	}
	return t
}

func sameRef(a, b *Ref) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
