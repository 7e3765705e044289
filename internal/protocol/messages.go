package protocol

import "encoding/json"

// HELLO (host -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
	ActorName       string `json:"actor_name,omitempty"`
}

// WELCOME (server -> host)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ActorID         string `json:"actor_id"`
	ServerTimeMs    int64  `json:"server_time_ms"`
	TuningDigest    string `json:"tuning_digest,omitempty"`
}

// Action kinds.
const (
	KindBlockBreak     = "BLOCK_BREAK"
	KindBlockPlace     = "BLOCK_PLACE"
	KindEntityInteract = "ENTITY_INTERACT"
	KindItemUse        = "ITEM_USE"
	KindCraft          = "CRAFT"
	KindDamageTaken    = "DAMAGE_TAKEN"
	KindDamageDealt    = "DAMAGE_DEALT"
	KindKill           = "KILL"
	KindDeath          = "DEATH"
	KindHeldItem       = "HELD_ITEM"
	KindInventoryOpen  = "INVENTORY_OPEN"
	KindInventorySlot  = "INVENTORY_SLOT"
	KindInventoryClose = "INVENTORY_CLOSE"
	KindPose           = "POSE"
)

// ACTION (host -> server). Only the fields relevant to Kind are set.
type ActionMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`

	Block string  `json:"block,omitempty"`
	Pos   *[3]int `json:"pos,omitempty"`

	Entity   *EntityRef `json:"entity,omitempty"`
	HeldItem string     `json:"held_item,omitempty"`
	Feeding  bool       `json:"feeding,omitempty"`

	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`

	Source  string  `json:"source,omitempty"`
	Target  string  `json:"target,omitempty"`
	Amount  float64 `json:"amount,omitempty"`
	Hostile bool    `json:"hostile,omitempty"`
	Player  bool    `json:"player,omitempty"`
	Cause   string  `json:"cause,omitempty"`

	Container string      `json:"container,omitempty"`
	Slot      *SlotChange `json:"slot,omitempty"`

	Pose *PoseObs `json:"pose,omitempty"`
}

type EntityRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type ItemStack struct {
	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`
}

type SlotChange struct {
	Index      int       `json:"index"`
	Old        ItemStack `json:"old"`
	New        ItemStack `json:"new"`
	PlayerSlot bool      `json:"player_slot,omitempty"`
}

// PoseObs is the per-tick viewpoint plus the host's view of nearby entities
// and sight-blocking boxes. Unloaded marks a tick with no world data.
type PoseObs struct {
	Eye       [3]float64  `json:"eye"`
	Look      [3]float64  `json:"look"`
	Feet      [3]float64  `json:"feet"`
	Entities  []EntityObs `json:"entities,omitempty"`
	Occluders []BoxObs    `json:"occluders,omitempty"`
	Unloaded  bool        `json:"unloaded,omitempty"`
}

type EntityObs struct {
	ID     string     `json:"id"`
	Type   string     `json:"type"`
	Pos    [3]float64 `json:"pos"`
	Height float64    `json:"height,omitempty"`
	Width  float64    `json:"width,omitempty"`
}

type BoxObs struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// LEAVE (host -> server)
type LeaveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// SUBSCRIBE (observer -> server). Empty lists mean everything.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ActorIDs        []string `json:"actor_ids,omitempty"`
	Types           []string `json:"types,omitempty"`
}

// REPORT (server -> observer)
type ReportMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Report          json.RawMessage `json:"report"`
}
