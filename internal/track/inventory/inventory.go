// Package inventory summarizes what an actor moved in and out of a container
// while its screen was open.
package inventory

// Stack is an item stack as seen in one slot. An empty Item means the slot is empty.
type Stack struct {
	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`
}

func (s Stack) Empty() bool { return s.Item == "" || s.Count <= 0 }

// SlotChange is one slot transition. PlayerSlot is true for slots belonging
// to the actor's own inventory rather than the container; those are ignored.
type SlotChange struct {
	Slot       int   `json:"slot"`
	Old        Stack `json:"old"`
	New        Stack `json:"new"`
	PlayerSlot bool  `json:"player_slot"`
}

type Summary struct {
	Container  string         `json:"container"`
	MovedIn    map[string]int `json:"moved_in,omitempty"`
	MovedOut   map[string]int `json:"moved_out,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Tracker follows one open container at a time.
type Tracker struct {
	// PlayerOnly lists container names that are the actor's own inventory;
	// their slot changes are ignored.
	PlayerOnly map[string]bool

	open       bool
	container  string
	openedAt   int64
	interacted bool
	movedIn    map[string]int
	movedOut   map[string]int
}

func New(playerOnly []string) *Tracker {
	po := make(map[string]bool, len(playerOnly))
	for _, n := range playerOnly {
		po[n] = true
	}
	return &Tracker{PlayerOnly: po}
}

func (t *Tracker) Open(container string, now int64) {
	t.open = true
	t.container = container
	t.openedAt = now
	t.interacted = false
	t.movedIn = map[string]int{}
	t.movedOut = map[string]int{}
}

func (t *Tracker) IsOpen() bool { return t.open }

func (t *Tracker) Slot(c SlotChange) {
	if !t.open || t.PlayerOnly[t.container] {
		return
	}
	if c.PlayerSlot || (c.Old.Empty() && c.New.Empty()) {
		return
	}
	t.interacted = true

	// Only container slots are counted; the host reports both halves of a
	// transfer and the player half would double it.
	switch {
	case !c.Old.Empty() && c.New.Empty():
		t.movedOut[c.Old.Item] += c.Old.Count
	case c.Old.Empty() && !c.New.Empty():
		t.movedIn[c.New.Item] += c.New.Count
	case c.Old.Item == c.New.Item:
		diff := c.New.Count - c.Old.Count
		if diff > 0 {
			t.movedIn[c.New.Item] += diff
		} else if diff < 0 {
			t.movedOut[c.New.Item] += -diff
		}
	default:
		t.movedOut[c.Old.Item] += c.Old.Count
		t.movedIn[c.New.Item] += c.New.Count
	}
}

// Close ends the container session. ok is false unless items actually moved
// through a tracked container.
func (t *Tracker) Close(now int64) (Summary, bool) {
	if !t.open {
		return Summary{}, false
	}
	s := Summary{
		Container:  t.container,
		MovedIn:    t.movedIn,
		MovedOut:   t.movedOut,
		DurationMs: now - t.openedAt,
	}
	report := t.interacted && !t.PlayerOnly[t.container] && t.container != ""
	t.open = false
	t.movedIn, t.movedOut = nil, nil
	if !report {
		return Summary{}, false
	}
	return s, true
}
