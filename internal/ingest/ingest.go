// Package ingest turns stamped wire messages into coordinator actions. The
// live WebSocket transport and the replay tool share it, so a capture replays
// through exactly the same path that produced it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"voxelwatch.ai/internal/protocol"
	"voxelwatch.ai/internal/track/actor"
	"voxelwatch.ai/internal/track/geom"
	"voxelwatch.ai/internal/track/hub"
	"voxelwatch.ai/internal/track/inventory"
	"voxelwatch.ai/internal/track/vision"
)

var ErrBadAction = errors.New("bad action")

// Record is one accepted inbound message stamped with the server clock.
type Record struct {
	At        int64               `json:"at"`
	ActorID   string              `json:"actor_id"`
	SessionID string              `json:"session_id,omitempty"`
	Type      string              `json:"type"`
	Action    *protocol.ActionMsg `json:"action,omitempty"`
}

// Apply routes a record into the hub.
func Apply(ctx context.Context, h *hub.Hub, r Record) error {
	switch r.Type {
	case protocol.TypeAction:
		if r.Action == nil {
			return fmt.Errorf("%w: missing action body", ErrBadAction)
		}
		a, err := ToAction(*r.Action, r.At)
		if err != nil {
			return err
		}
		return h.Dispatch(ctx, r.ActorID, a)
	case protocol.TypeLeave:
		if err := h.Leave(ctx, r.ActorID, r.At); err != nil && !errors.Is(err, hub.ErrUnknownActor) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected record type %q", ErrBadAction, r.Type)
	}
}

func ToAction(m protocol.ActionMsg, at int64) (actor.Action, error) {
	a := actor.Action{At: at}
	switch m.Kind {
	case protocol.KindBlockBreak, protocol.KindBlockPlace:
		if m.Block == "" || m.Pos == nil {
			return a, fmt.Errorf("%w: %s needs block and pos", ErrBadAction, m.Kind)
		}
		p := geom.FromArray(*m.Pos)
		a.Block, a.Pos = m.Block, &p
		a.Kind = actor.BlockBreak
		if m.Kind == protocol.KindBlockPlace {
			a.Kind = actor.BlockPlace
		}
	case protocol.KindEntityInteract:
		if m.Entity == nil {
			return a, fmt.Errorf("%w: ENTITY_INTERACT needs entity", ErrBadAction)
		}
		a.Kind = actor.EntityInteract
		a.Entity = &vision.Ref{ID: m.Entity.ID, Type: m.Entity.Type}
		a.HeldItem, a.Feeding = m.HeldItem, m.Feeding
	case protocol.KindItemUse:
		a.Kind, a.Item = actor.ItemUse, m.Item
	case protocol.KindCraft:
		a.Kind, a.Item, a.Count = actor.Craft, m.Item, m.Count
	case protocol.KindDamageTaken:
		a.Kind, a.Other, a.Amount = actor.DamageTaken, m.Source, m.Amount
	case protocol.KindDamageDealt:
		a.Kind, a.Other, a.Amount = actor.DamageDealt, m.Target, m.Amount
	case protocol.KindKill:
		a.Kind, a.Hostile, a.Player = actor.Kill, m.Hostile, m.Player
		a.Other = m.Target
		if m.Entity != nil {
			a.Other = m.Entity.Type
		}
	case protocol.KindDeath:
		a.Kind, a.Other = actor.Death, m.Cause
	case protocol.KindHeldItem:
		a.Kind, a.Item = actor.HeldItem, m.Item
	case protocol.KindInventoryOpen:
		a.Kind, a.Container = actor.InventoryOpen, m.Container
	case protocol.KindInventorySlot:
		if m.Slot == nil {
			return a, fmt.Errorf("%w: INVENTORY_SLOT needs slot", ErrBadAction)
		}
		a.Kind = actor.InventorySlot
		a.Slot = &inventory.SlotChange{
			Slot:       m.Slot.Index,
			Old:        inventory.Stack{Item: m.Slot.Old.Item, Count: m.Slot.Old.Count},
			New:        inventory.Stack{Item: m.Slot.New.Item, Count: m.Slot.New.Count},
			PlayerSlot: m.Slot.PlayerSlot,
		}
	case protocol.KindInventoryClose:
		a.Kind = actor.InventoryClose
	case protocol.KindPose:
		if m.Pose == nil {
			return a, fmt.Errorf("%w: POSE needs pose", ErrBadAction)
		}
		p, err := toPose(*m.Pose)
		if err != nil {
			return a, err
		}
		a.Kind, a.Pose = actor.PoseUpdate, p
	default:
		return a, fmt.Errorf("%w: unknown kind %q", ErrBadAction, m.Kind)
	}
	if math.IsNaN(a.Amount) || math.IsInf(a.Amount, 0) {
		return a, fmt.Errorf("%w: non-finite amount", ErrBadAction)
	}
	return a, nil
}

func toPose(p protocol.PoseObs) (*actor.Pose, error) {
	out := &actor.Pose{
		Eye:  geom.FromArrayF(p.Eye),
		Look: geom.FromArrayF(p.Look),
		Feet: geom.FromArrayF(p.Feet),
	}
	if !out.Eye.IsFinite() || !out.Look.IsFinite() || !out.Feet.IsFinite() {
		return nil, fmt.Errorf("%w: non-finite pose", ErrBadAction)
	}
	scene := &vision.Scene{Unloaded: p.Unloaded}
	for _, e := range p.Entities {
		pos := geom.FromArrayF(e.Pos)
		if !pos.IsFinite() {
			continue
		}
		scene.Entities = append(scene.Entities, vision.Entity{
			Ref:    vision.Ref{ID: e.ID, Type: e.Type},
			Pos:    pos,
			Height: e.Height,
			Width:  e.Width,
		})
	}
	for _, b := range p.Occluders {
		lo, hi := geom.FromArrayF(b.Min), geom.FromArrayF(b.Max)
		if !lo.IsFinite() || !hi.IsFinite() {
			continue
		}
		scene.Occluders = append(scene.Occluders, geom.Span(lo, hi))
	}
	out.World = scene
	return out, nil
}
