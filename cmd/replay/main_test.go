package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"voxelwatch.ai/internal/ingest"
	persistlog "voxelwatch.ai/internal/persistence/log"
	"voxelwatch.ai/internal/protocol"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/session"
	"voxelwatch.ai/internal/track/tuning"
)

func breakRec(at int64, actorID, block string, x int) ingest.Record {
	pos := [3]int{x, 12, 0}
	return ingest.Record{
		At:      at,
		ActorID: actorID,
		Type:    protocol.TypeAction,
		Action:  &protocol.ActionMsg{Type: protocol.TypeAction, ProtocolVersion: protocol.Version, Kind: protocol.KindBlockBreak, Block: block, Pos: &pos},
	}
}

func writeCapture(t *testing.T, recs []ingest.Record) []string {
	t.Helper()
	dir := t.TempDir()
	c := persistlog.NewCaptureLogger(dir)
	for _, r := range recs {
		require.NoError(t, c.WriteRecord(r))
	}
	require.NoError(t, c.Close())
	files, err := persistlog.ListSegments(filepath.Join(dir, "capture"), "actions")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	return files
}

func TestReplay_TicksBetweenRecords(t *testing.T) {
	var recs []ingest.Record
	for i := 0; i < 3; i++ {
		recs = append(recs, breakRec(int64(i)*100, "steve", "stone", i))
	}
	// A 10s gap: ticks in between must close the first burst on its own.
	recs = append(recs, breakRec(10_000, "steve", "stone", 9))
	recs = append(recs, ingest.Record{At: 10_500, ActorID: "steve", Type: protocol.TypeLeave})
	files := writeCapture(t, recs)

	res, err := replay(context.Background(), files, options{Tuning: tuning.Defaults()})
	require.NoError(t, err)
	require.Equal(t, 5, res.Records)
	require.Equal(t, 1, res.Actors)

	var finals []session.Report
	for _, e := range res.Reports {
		if e.Type == report.TypeMining {
			finals = append(finals, *e.Session)
		}
	}
	require.Len(t, finals, 2)
	require.Equal(t, session.Final, finals[0].Kind)
	require.Equal(t, map[string]int{"stone": 3}, finals[0].Counts)
	require.Equal(t, map[string]int{"stone": 1}, finals[1].Counts)
	require.Equal(t, report.TypeSummary, res.Reports[len(res.Reports)-1].Type)
}

func TestReplay_FiltersActorAndGroupsOutput(t *testing.T) {
	files := writeCapture(t, []ingest.Record{
		breakRec(0, "steve", "iron_ore", 0),
		breakRec(10, "alex", "coal_ore", 0),
		breakRec(20, "steve", "iron_ore", 1),
	})

	res, err := replay(context.Background(), files, options{Tuning: tuning.Defaults(), ActorID: "alex"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Records)
	for _, e := range res.Reports {
		require.Equal(t, "alex", e.ActorID)
	}

	res, err = replay(context.Background(), files, options{Tuning: tuning.Defaults()})
	require.NoError(t, err)
	require.Equal(t, 2, res.Actors)
	require.Equal(t, "steve", res.Reports[0].ActorID)
	require.Equal(t, "alex", res.Reports[len(res.Reports)-1].ActorID)
}
