package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxelwatch.ai/internal/track/session"
	"voxelwatch.ai/internal/track/stripmine"
	"voxelwatch.ai/internal/track/vision"
)

var ErrInvalid = errors.New("invalid tuning")

type Tuning struct {
	Mining       SessionTuning  `yaml:"mining"`
	Construction SessionTuning  `yaml:"construction"`
	StripMining  StripTuning    `yaml:"strip_mining"`
	Vision       VisionTuning   `yaml:"vision"`
	Movement     MovementTuning `yaml:"movement"`
	Actor        ActorTuning    `yaml:"actor"`
	Hub          HubTuning      `yaml:"hub"`
	Keywords     KeywordTuning  `yaml:"keywords"`
}

type SessionTuning struct {
	QuietTimeoutMs     int64 `yaml:"quiet_timeout_ms"`
	PeriodicIntervalMs int64 `yaml:"periodic_interval_ms"`
}

type StripTuning struct {
	DepthThreshold int `yaml:"depth_threshold"`
	Capacity       int `yaml:"capacity"`
	MinSamples     int `yaml:"min_samples"`
	MaxRise        int `yaml:"max_rise"`
	MinRun         int `yaml:"min_run"`
}

type VisionTuning struct {
	MaxViewDistance    float64 `yaml:"max_view_distance"`
	HalfAngleDeg       float64 `yaml:"half_angle_deg"`
	PreciseDistance    float64 `yaml:"precise_distance"`
	OcclusionTolerance float64 `yaml:"occlusion_tolerance"`
}

type MovementTuning struct {
	TeleportDistance float64 `yaml:"teleport_distance"`
}

type ActorTuning struct {
	RecentActions int `yaml:"recent_actions"`
}

type HubTuning struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
	InboxSize      int `yaml:"inbox_size"`
}

// KeywordTuning holds the substring lists used to classify block, item and
// entity names.
type KeywordTuning struct {
	Ores           []string `yaml:"ores"`
	ValuableOres   []string `yaml:"valuable_ores"`
	ImportantItems []string `yaml:"important_items"`
	ImportantUses  []string `yaml:"important_uses"`
	SkipEntities   []string `yaml:"skip_entities"`
	PlayerOnly     []string `yaml:"player_only_containers"`
}

func Defaults() Tuning {
	return Tuning{
		Mining:       SessionTuning{QuietTimeoutMs: 2000, PeriodicIntervalMs: 5000},
		Construction: SessionTuning{QuietTimeoutMs: 3000, PeriodicIntervalMs: 30000},
		StripMining:  StripTuning{DepthThreshold: 40, Capacity: 20, MinSamples: 10, MaxRise: 2, MinRun: 5},
		Vision:       VisionTuning{MaxViewDistance: 64, HalfAngleDeg: 35, PreciseDistance: 20, OcclusionTolerance: 1},
		Movement:     MovementTuning{TeleportDistance: 100},
		Actor:        ActorTuning{RecentActions: 100},
		Hub:          HubTuning{TickIntervalMs: 50, InboxSize: 256},
		Keywords: KeywordTuning{
			Ores:           []string{"ore", "ancient_debris", "nether_gold"},
			ValuableOres:   []string{"diamond", "emerald", "ancient_debris", "netherite"},
			ImportantItems: []string{"diamond", "netherite", "enchant", "golden_apple", "totem", "elytra"},
			ImportantUses: []string{
				"potion", "ender_pearl", "eye_of_ender", "totem", "bucket", "flint_and_steel", "golden_apple",
			},
			SkipEntities: []string{
				"Item", "Falling Block", "Experience Orb", "Arrow", "Trident", "Snowball",
				"Egg", "Ender Pearl", "Firework Rocket", "Item Frame", "Painting",
				"Armor Stand", "Boat", "Minecart",
			},
			PlayerOnly: []string{"Player Inventory", "Crafting"},
		},
	}
}

// Load reads a tuning file over Defaults. Keys absent from the file keep
// their default values. An empty path returns Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	for _, s := range []struct {
		name string
		v    SessionTuning
	}{{"mining", t.Mining}, {"construction", t.Construction}} {
		if s.v.QuietTimeoutMs <= 0 || s.v.PeriodicIntervalMs <= 0 {
			return fmt.Errorf("%w: %s timings must be > 0", ErrInvalid, s.name)
		}
	}
	sm := t.StripMining
	if sm.Capacity <= 0 || sm.MinSamples <= 0 {
		return fmt.Errorf("%w: strip_mining capacity and min_samples must be > 0", ErrInvalid)
	}
	if sm.MinSamples > sm.Capacity {
		return fmt.Errorf("%w: strip_mining min_samples %d exceeds capacity %d", ErrInvalid, sm.MinSamples, sm.Capacity)
	}
	if sm.MaxRise < 0 || sm.MinRun < 0 {
		return fmt.Errorf("%w: strip_mining max_rise/min_run must be >= 0", ErrInvalid)
	}
	v := t.Vision
	if v.MaxViewDistance <= 0 || v.PreciseDistance <= 0 {
		return fmt.Errorf("%w: vision distances must be > 0", ErrInvalid)
	}
	if v.HalfAngleDeg <= 0 || v.HalfAngleDeg >= 180 {
		return fmt.Errorf("%w: vision half_angle_deg must be in (0, 180)", ErrInvalid)
	}
	if v.OcclusionTolerance < 0 {
		return fmt.Errorf("%w: vision occlusion_tolerance must be >= 0", ErrInvalid)
	}
	if t.Movement.TeleportDistance <= 0 {
		return fmt.Errorf("%w: movement teleport_distance must be > 0", ErrInvalid)
	}
	if t.Actor.RecentActions <= 0 {
		return fmt.Errorf("%w: actor recent_actions must be > 0", ErrInvalid)
	}
	if t.Hub.TickIntervalMs <= 0 || t.Hub.InboxSize <= 0 {
		return fmt.Errorf("%w: hub tick_interval_ms and inbox_size must be > 0", ErrInvalid)
	}
	return nil
}

func (t Tuning) MiningSession() session.Config {
	return session.Config{
		Name:               "mining",
		QuietTimeoutMs:     t.Mining.QuietTimeoutMs,
		PeriodicIntervalMs: t.Mining.PeriodicIntervalMs,
	}
}

func (t Tuning) ConstructionSession() session.Config {
	return session.Config{
		Name:               "construction",
		QuietTimeoutMs:     t.Construction.QuietTimeoutMs,
		PeriodicIntervalMs: t.Construction.PeriodicIntervalMs,
		TrackGeometry:      true,
	}
}

func (t Tuning) Strip() stripmine.Config {
	return stripmine.Config{
		DepthThreshold: t.StripMining.DepthThreshold,
		Capacity:       t.StripMining.Capacity,
		MinSamples:     t.StripMining.MinSamples,
		MaxRise:        t.StripMining.MaxRise,
		MinRun:         t.StripMining.MinRun,
	}
}

func (t Tuning) VisionConfig() vision.Config {
	return vision.Config{
		MaxViewDistance:    t.Vision.MaxViewDistance,
		HalfAngleDeg:       t.Vision.HalfAngleDeg,
		PreciseDistance:    t.Vision.PreciseDistance,
		OcclusionTolerance: t.Vision.OcclusionTolerance,
	}
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.Hub.TickIntervalMs) * time.Millisecond
}

// Digest is a short stable hash of the effective tuning, sent to clients in
// WELCOME so captures can be matched with the settings that produced them.
func (t Tuning) Digest() string {
	b, err := yaml.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
