// Package actor owns all per-actor tracking state and routes host events to
// the trackers that consume them.
package actor

import (
	"fmt"
	"strings"

	"voxelwatch.ai/internal/track/discovery"
	"voxelwatch.ai/internal/track/inventory"
	"voxelwatch.ai/internal/track/movement"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/session"
	"voxelwatch.ai/internal/track/stripmine"
	"voxelwatch.ai/internal/track/tuning"
	"voxelwatch.ai/internal/track/vision"
)

// Coordinator is the single-writer state of one actor. It is not safe for
// concurrent use; the hub drives each coordinator from one goroutine.
type Coordinator struct {
	id       string
	sink     report.Sink
	registry *discovery.Registry
	keywords tuning.KeywordTuning
	skip     map[string]bool

	mining       *session.Tracker
	construction *session.Tracker
	strip        *stripmine.Detector
	eye          *vision.Engine
	move         *movement.Tracker
	inv          *inventory.Tracker

	// prev is the last known visibility snapshot, replaced wholesale each tick.
	prev vision.State
	pose *Pose

	counters    map[string]int
	recent      *recentRing
	held        string
	discovered  int
	connectedAt int64
	now         int64
	closed      bool
}

func New(actorID string, connectedAt int64, t tuning.Tuning, registry *discovery.Registry, sink report.Sink) *Coordinator {
	if sink == nil {
		sink = report.Discard
	}
	if registry == nil {
		registry = discovery.NewRegistry(nil, nil)
	}
	skip := make(map[string]bool, len(t.Keywords.SkipEntities))
	for _, s := range t.Keywords.SkipEntities {
		skip[s] = true
	}
	return &Coordinator{
		id:           actorID,
		sink:         sink,
		registry:     registry,
		keywords:     t.Keywords,
		skip:         skip,
		mining:       session.New(t.MiningSession()),
		construction: session.New(t.ConstructionSession()),
		strip:        stripmine.New(t.Strip()),
		eye:          vision.NewEngine(t.VisionConfig()),
		move:         movement.New(t.Movement.TeleportDistance),
		inv:          inventory.New(t.Keywords.PlayerOnly),
		counters:     map[string]int{},
		recent:       newRecentRing(t.Actor.RecentActions),
		connectedAt:  connectedAt,
		now:          connectedAt,
	}
}

func (c *Coordinator) ID() string { return c.id }

func (c *Coordinator) Closed() bool { return c.closed }

// Counters returns a copy of the action counters.
func (c *Coordinator) Counters() map[string]int {
	out := make(map[string]int, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}

// clock clamps at so that time seen by this actor never moves backwards.
func (c *Coordinator) clock(at int64) int64 {
	if at < c.now {
		return c.now
	}
	c.now = at
	return at
}

func (c *Coordinator) Handle(a Action) {
	if c.closed {
		return
	}
	now := c.clock(a.At)

	switch a.Kind {
	case BlockBreak:
		c.onBlockBreak(a, now)
	case BlockPlace:
		c.onBlockPlace(a, now)
	case EntityInteract:
		c.onEntityInteract(a, now)
	case ItemUse:
		c.bump("items_used")
		c.remember(now, a.Kind, a.Item)
		if containsAny(a.Item, c.keywords.ImportantUses) {
			c.activity(now, "used important item", a.Item, false)
		}
	case Craft:
		n := max(a.Count, 1)
		c.bump("items_crafted")
		detail := fmt.Sprintf("%dx %s", n, a.Item)
		c.remember(now, a.Kind, detail)
		c.activity(now, "crafted", detail, containsAny(a.Item, c.keywords.ImportantItems))
	case DamageTaken:
		c.bump("damage_taken")
		detail := fmt.Sprintf("%.1f from %s", a.Amount, a.Other)
		c.remember(now, a.Kind, detail)
		c.activity(now, "damage taken", detail, false)
	case DamageDealt:
		c.bump("damage_dealt")
		detail := fmt.Sprintf("%.1f to %s", a.Amount, a.Other)
		c.remember(now, a.Kind, detail)
		c.activity(now, "damage dealt", detail, false)
	case Kill:
		c.onKill(a, now)
	case Death:
		c.bump("deaths")
		at := ""
		if c.pose != nil {
			f := c.pose.Feet
			at = fmt.Sprintf(" at %.0f,%.0f,%.0f", f.X, f.Y, f.Z)
		}
		detail := fmt.Sprintf("death #%d from %s%s", c.counters["deaths"], a.Other, at)
		c.remember(now, a.Kind, a.Other)
		c.activity(now, "died", detail, true)
	case HeldItem:
		if a.Item == c.held {
			return
		}
		c.held = a.Item
		c.bump("held_item_switches")
		c.remember(now, a.Kind, a.Item)
		c.activity(now, "switched held item", a.Item, false)
	case InventoryOpen:
		if c.inv.IsOpen() {
			c.closeInventory(now)
		}
		c.inv.Open(a.Container, now)
		c.bump("containers_opened")
		c.remember(now, a.Kind, a.Container)
	case InventorySlot:
		if a.Slot != nil {
			c.inv.Slot(*a.Slot)
		}
	case InventoryClose:
		c.closeInventory(now)
	case PoseUpdate:
		if a.Pose == nil {
			return
		}
		p := *a.Pose
		c.pose = &p
		c.move.Observe(p.Feet)
	}
}

func (c *Coordinator) onBlockBreak(a Action, now int64) {
	c.bump("blocks_broken")
	c.remember(now, a.Kind, a.Block)

	if stale, ok, _ := c.mining.Contribute(session.Contribution{Kind: a.Block, At: now, Pos: a.Pos}); ok {
		c.sink.Emit(report.FromSession(c.id, stale))
	}
	if a.Pos != nil {
		if n, fired := c.strip.Observe(*a.Pos); fired {
			c.bump("strip_mining_detected")
			c.sink.Emit(report.StripMining(c.id, now, n))
		}
	}
	if !c.isOre(a.Block) {
		return
	}
	where := ""
	if a.Pos != nil {
		where = fmt.Sprintf("%d,%d,%d", a.Pos.X, a.Pos.Y, a.Pos.Z)
	}
	c.discover(now, discovery.CategoryOres, a.Block, "mined at "+where)
	if containsAny(a.Block, c.keywords.ValuableOres) {
		c.activity(now, "found valuable ore", strings.TrimSpace(a.Block+" at "+where), true)
	}
}

func (c *Coordinator) onBlockPlace(a Action, now int64) {
	c.bump("blocks_placed")
	c.remember(now, a.Kind, a.Block)

	stale, ok, started := c.construction.Contribute(session.Contribution{Kind: a.Block, At: now, Pos: a.Pos})
	if ok {
		c.sink.Emit(report.FromSession(c.id, stale))
	}
	if started {
		c.activity(now, "started building", a.Block, false)
	}
}

func (c *Coordinator) onEntityInteract(a Action, now int64) {
	if a.Entity == nil {
		return
	}
	c.bump("entities_interacted")
	c.remember(now, a.Kind, a.Entity.Type)
	if a.Feeding && a.HeldItem != "" {
		c.bump("animals_fed")
		c.activity(now, "fed animal", fmt.Sprintf("%s with %s", a.Entity.Type, a.HeldItem), false)
	}
	c.discoverEntity(now, *a.Entity, "first interaction")
}

func (c *Coordinator) onKill(a Action, now int64) {
	c.bump("entities_killed")
	important := false
	switch {
	case a.Player:
		c.bump("players_killed")
		important = true
	case a.Hostile:
		c.bump("hostiles_killed")
	default:
		c.bump("passives_killed")
	}
	c.remember(now, a.Kind, a.Other)
	c.activity(now, "killed", a.Other, important)
}

// Tick runs the per-tick work: flush checks on both trackers and a fresh
// visibility snapshot from the latest pose.
func (c *Coordinator) Tick(now int64) {
	if c.closed {
		return
	}
	now = c.clock(now)
	c.flush(c.mining, now)
	c.flush(c.construction, now)
	c.updateVision(now)
}

func (c *Coordinator) flush(t *session.Tracker, now int64) {
	if !t.ShouldFlush(now) {
		return
	}
	if r, ok := t.Flush(now); ok {
		c.sink.Emit(report.FromSession(c.id, r))
	}
}

func (c *Coordinator) updateVision(now int64) {
	if c.pose == nil {
		return
	}
	cur := c.eye.Update(vision.Pose{Eye: c.pose.Eye, Look: c.pose.Look}, c.pose.World)
	if cur.Unknown {
		// No data this tick; keep the previous snapshot for the next diff.
		return
	}
	tr := vision.Diff(c.prev, cur)
	c.prev = cur
	if tr.Empty() {
		return
	}
	c.sink.Emit(report.FromTransition(c.id, now, tr))
	if tr.LookChanged && tr.LookTo != nil {
		c.discoverEntity(now, *tr.LookTo, "first visual contact")
	}
}

// Close force-finalizes both trackers, emits the actor summary and marks the
// coordinator dead. Later calls are no-ops.
func (c *Coordinator) Close(now int64) {
	if c.closed {
		return
	}
	now = c.clock(now)
	c.closeInventory(now)
	if r, ok := c.mining.ForceFinal(now); ok {
		c.sink.Emit(report.FromSession(c.id, r))
	}
	if r, ok := c.construction.ForceFinal(now); ok {
		c.sink.Emit(report.FromSession(c.id, r))
	}
	c.sink.Emit(report.NewSummary(c.id, now, report.Summary{
		ConnectedAt:     c.connectedAt,
		DurationMs:      now - c.connectedAt,
		Actions:         c.Counters(),
		DistanceBlocks:  c.move.Total(),
		TeleportsSeen:   c.move.Rejected(),
		DiscoveriesSeen: c.discovered,
		Recent:          c.recent.list(),
	}))
	c.closed = true
	c.pose = nil
	c.prev = vision.State{}
}

func (c *Coordinator) closeInventory(now int64) {
	if s, ok := c.inv.Close(now); ok {
		c.remember(now, InventoryClose, s.Container)
		c.sink.Emit(report.FromInventory(c.id, now, s))
	}
}

func (c *Coordinator) discoverEntity(now int64, ref vision.Ref, context string) {
	if ref.Type == "" || c.skip[ref.Type] {
		return
	}
	c.discover(now, discovery.CategoryEntities, ref.Type, context)
}

func (c *Coordinator) discover(now int64, category, item, context string) {
	if !c.registry.RecordDiscovery(c.id, category, item) {
		return
	}
	c.discovered++
	c.sink.Emit(report.NewDiscovery(c.id, now, report.Discovery{Category: category, Item: item, Context: context}))
}

func (c *Coordinator) activity(now int64, event, detail string, important bool) {
	c.sink.Emit(report.NewActivity(c.id, now, report.Activity{Event: event, Detail: detail, Important: important}))
}

func (c *Coordinator) bump(name string) { c.counters[name]++ }

func (c *Coordinator) remember(now int64, kind Kind, detail string) {
	c.recent.add(report.RecentAction{At: now, Kind: string(kind), Detail: detail})
}

func (c *Coordinator) isOre(block string) bool {
	return containsAny(block, c.keywords.Ores)
}

func containsAny(name string, subs []string) bool {
	lower := strings.ToLower(name)
	for _, s := range subs {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
