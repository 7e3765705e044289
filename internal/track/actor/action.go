package actor

import (
	"voxelwatch.ai/internal/track/geom"
	"voxelwatch.ai/internal/track/inventory"
	"voxelwatch.ai/internal/track/vision"
)

type Kind string

const (
	BlockBreak     Kind = "BLOCK_BREAK"
	BlockPlace     Kind = "BLOCK_PLACE"
	EntityInteract Kind = "ENTITY_INTERACT"
	ItemUse        Kind = "ITEM_USE"
	Craft          Kind = "CRAFT"
	DamageTaken    Kind = "DAMAGE_TAKEN"
	DamageDealt    Kind = "DAMAGE_DEALT"
	Kill           Kind = "KILL"
	Death          Kind = "DEATH"
	HeldItem       Kind = "HELD_ITEM"
	InventoryOpen  Kind = "INVENTORY_OPEN"
	InventorySlot  Kind = "INVENTORY_SLOT"
	InventoryClose Kind = "INVENTORY_CLOSE"
	PoseUpdate     Kind = "POSE"
)

// Action is one stamped host event. Only the fields relevant to Kind are set.
type Action struct {
	Kind Kind
	At   int64

	Block string
	Pos   *geom.Vec3i

	Entity   *vision.Ref
	HeldItem string
	Feeding  bool

	Item  string
	Count int

	// Other is the damage source, damage target, or death cause.
	Other   string
	Amount  float64
	Hostile bool
	Player  bool

	Container string
	Slot      *inventory.SlotChange

	Pose *Pose
}

// Pose is the actor's per-tick viewpoint plus whatever world snapshot the
// host sent with it. A nil World yields an unknown visibility state.
type Pose struct {
	Eye   geom.Vec3
	Look  geom.Vec3
	Feet  geom.Vec3
	World vision.WorldQuery
}
