package ingest

import (
	"context"
	"errors"
	"testing"

	"voxelwatch.ai/internal/protocol"
	"voxelwatch.ai/internal/track/actor"
	"voxelwatch.ai/internal/track/hub"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/report/reporttest"
	"voxelwatch.ai/internal/track/tuning"
)

func action(kind string) protocol.ActionMsg {
	return protocol.ActionMsg{Type: protocol.TypeAction, ProtocolVersion: protocol.Version, Kind: kind}
}

func TestToAction_BlockAndPose(t *testing.T) {
	m := action(protocol.KindBlockBreak)
	m.Block, m.Pos = "iron_ore", &[3]int{4, 20, -7}
	a, err := ToAction(m, 1234)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if a.Kind != actor.BlockBreak || a.At != 1234 || a.Pos.Y != 20 || a.Pos.Z != -7 {
		t.Fatalf("unexpected action: %+v", a)
	}

	m = action(protocol.KindPose)
	m.Pose = &protocol.PoseObs{
		Eye:       [3]float64{0, 1.62, 0},
		Look:      [3]float64{0, 0, 1},
		Entities:  []protocol.EntityObs{{ID: "1", Type: "Pig", Pos: [3]float64{0, 1, 6}, Height: 0.9, Width: 0.9}},
		Occluders: []protocol.BoxObs{{Min: [3]float64{2, 0, 2}, Max: [3]float64{-2, 3, 3}}},
	}
	a, err = ToAction(m, 0)
	if err != nil {
		t.Fatalf("convert pose: %v", err)
	}
	if a.Kind != actor.PoseUpdate || a.Pose == nil || a.Pose.World == nil {
		t.Fatalf("pose not converted: %+v", a)
	}
	// Occluder corners arrive unordered; the pig sits behind the box.
	if _, hit := a.Pose.World.Raycast(a.Pose.Eye, a.Pose.Eye.Add(a.Pose.Look.Scale(10))); !hit {
		t.Fatalf("expected the normalized occluder to block the look ray")
	}
}

func TestToAction_Rejects(t *testing.T) {
	cases := []protocol.ActionMsg{
		action(protocol.KindBlockPlace),
		action(protocol.KindEntityInteract),
		action(protocol.KindInventorySlot),
		action(protocol.KindPose),
		action("JUMP"),
	}
	for _, m := range cases {
		if _, err := ToAction(m, 0); !errors.Is(err, ErrBadAction) {
			t.Fatalf("expected ErrBadAction for %s, got %v", m.Kind, err)
		}
	}
}

func TestToAction_KillUsesEntityType(t *testing.T) {
	m := action(protocol.KindKill)
	m.Entity = &protocol.EntityRef{ID: "9", Type: "Creeper"}
	m.Hostile = true
	a, err := ToAction(m, 5)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if a.Other != "Creeper" || !a.Hostile {
		t.Fatalf("unexpected kill: %+v", a)
	}
}

func TestApply_RoutesActionsAndLeave(t *testing.T) {
	var sink reporttest.Collector
	h := hub.New(hub.Config{Tuning: tuning.Defaults(), Sink: &sink, Clock: func() int64 { return 0 }})
	ctx := context.Background()
	defer h.Close(ctx)

	m := action(protocol.KindBlockPlace)
	m.Block, m.Pos = "stone_bricks", &[3]int{0, 64, 0}
	if err := Apply(ctx, h, Record{At: 10, ActorID: "steve", Type: protocol.TypeAction, Action: &m}); err != nil {
		t.Fatalf("apply action: %v", err)
	}
	if err := Apply(ctx, h, Record{At: 20, ActorID: "steve", Type: protocol.TypeLeave}); err != nil {
		t.Fatalf("apply leave: %v", err)
	}
	if err := Apply(ctx, h, Record{At: 30, ActorID: "steve", Type: protocol.TypeLeave}); err != nil {
		t.Fatalf("second leave should be tolerated: %v", err)
	}
	if got := len(sink.OfType(report.TypeConstruction)); got != 1 {
		t.Fatalf("expected one construction report, got %d", got)
	}
	if err := Apply(ctx, h, Record{Type: "HELLO"}); !errors.Is(err, ErrBadAction) {
		t.Fatalf("expected ErrBadAction, got %v", err)
	}
}
