// Package report defines the values handed to a Sink and the generic sinks
// that route them.
package report

import (
	"github.com/google/uuid"

	"voxelwatch.ai/internal/track/inventory"
	"voxelwatch.ai/internal/track/session"
	"voxelwatch.ai/internal/track/stripmine"
	"voxelwatch.ai/internal/track/vision"
)

type Type string

const (
	TypeMining       Type = "MINING"
	TypeConstruction Type = "CONSTRUCTION"
	TypeStripMining  Type = "STRIP_MINING"
	TypeDiscovery    Type = "DISCOVERY"
	TypeVisibility   Type = "VISIBILITY"
	TypeActivity     Type = "ACTIVITY"
	TypeInventory    Type = "INVENTORY"
	TypeSummary      Type = "SUMMARY"
)

// Envelope carries exactly one payload matching Type.
type Envelope struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	At      int64  `json:"at"`
	Type    Type   `json:"type"`

	Session     *session.Report    `json:"session,omitempty"`
	StripMining *stripmine.Notice  `json:"strip_mining,omitempty"`
	Discovery   *Discovery         `json:"discovery,omitempty"`
	Visibility  *Visibility        `json:"visibility,omitempty"`
	Activity    *Activity          `json:"activity,omitempty"`
	Inventory   *inventory.Summary `json:"inventory,omitempty"`
	Summary     *Summary           `json:"summary,omitempty"`
}

type Discovery struct {
	Category string `json:"category"`
	Item     string `json:"item"`
	Context  string `json:"context,omitempty"`
}

type Visibility struct {
	Entered  []vision.Ref `json:"entered,omitempty"`
	Exited   []vision.Ref `json:"exited,omitempty"`
	LookFrom *vision.Ref  `json:"look_from,omitempty"`
	LookTo   *vision.Ref  `json:"look_to,omitempty"`
}

type Activity struct {
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
	Important bool   `json:"important,omitempty"`
}

// RecentAction is one entry of the bounded recent-action ring.
type RecentAction struct {
	At     int64  `json:"at"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Summary is emitted once when an actor disconnects.
type Summary struct {
	ConnectedAt     int64          `json:"connected_at"`
	DurationMs      int64          `json:"duration_ms"`
	Actions         map[string]int `json:"actions"`
	DistanceBlocks  float64        `json:"distance_blocks"`
	TeleportsSeen   int            `json:"teleports_seen"`
	DiscoveriesSeen int            `json:"discoveries_seen"`
	Recent          []RecentAction `json:"recent,omitempty"`
}

func newEnvelope(actorID string, at int64, typ Type) Envelope {
	return Envelope{ID: uuid.NewString(), ActorID: actorID, At: at, Type: typ}
}

// FromSession wraps a tracker flush. The type follows the tracker name.
func FromSession(actorID string, r session.Report) Envelope {
	typ := TypeMining
	if r.Tracker == "construction" {
		typ = TypeConstruction
	}
	e := newEnvelope(actorID, r.FlushedAt, typ)
	e.Session = &r
	return e
}

func StripMining(actorID string, at int64, n stripmine.Notice) Envelope {
	e := newEnvelope(actorID, at, TypeStripMining)
	e.StripMining = &n
	return e
}

func NewDiscovery(actorID string, at int64, d Discovery) Envelope {
	e := newEnvelope(actorID, at, TypeDiscovery)
	e.Discovery = &d
	return e
}

func FromTransition(actorID string, at int64, t vision.Transition) Envelope {
	e := newEnvelope(actorID, at, TypeVisibility)
	v := Visibility{Entered: t.Entered, Exited: t.Exited}
	if t.LookChanged {
		v.LookFrom, v.LookTo = t.LookFrom, t.LookTo
	}
	e.Visibility = &v
	return e
}

func NewActivity(actorID string, at int64, a Activity) Envelope {
	e := newEnvelope(actorID, at, TypeActivity)
	e.Activity = &a
	return e
}

func FromInventory(actorID string, at int64, s inventory.Summary) Envelope {
	e := newEnvelope(actorID, at, TypeInventory)
	e.Inventory = &s
	return e
}

func NewSummary(actorID string, at int64, s Summary) Envelope {
	e := newEnvelope(actorID, at, TypeSummary)
	e.Summary = &s
	return e
}
