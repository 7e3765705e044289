package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelwatch.ai/internal/track/actor"
	"voxelwatch.ai/internal/track/discovery"
	"voxelwatch.ai/internal/track/geom"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/report/reporttest"
	"voxelwatch.ai/internal/track/session"
	"voxelwatch.ai/internal/track/tuning"
)

func newManualHub(t *testing.T, store discovery.Store) (*Hub, *reporttest.Collector) {
	t.Helper()
	var sink reporttest.Collector
	h := New(Config{
		Tuning:   tuning.Defaults(),
		Registry: discovery.NewRegistry(store, nil),
		Sink:     &sink,
		Clock:    func() int64 { return 0 },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Close(ctx)
	})
	return h, &sink
}

func breakAt(at int64, block string, x, y, z int) actor.Action {
	return actor.Action{Kind: actor.BlockBreak, At: at, Block: block, Pos: &geom.Vec3i{X: x, Y: y, Z: z}}
}

func TestHub_TickAndLeave(t *testing.T) {
	h, sink := newManualHub(t, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, h.Dispatch(ctx, "alex", breakAt(int64(i)*500, "coal_ore", i, 64, 0)))
	}
	require.Equal(t, []string{"alex"}, h.Actors())
	require.NoError(t, h.Tick(ctx, 5100))
	require.NoError(t, h.Leave(ctx, "alex", 6000))
	require.Equal(t, 0, h.Len())

	mining := sink.OfType(report.TypeMining)
	require.Len(t, mining, 1)
	require.Equal(t, session.Final, mining[0].Session.Kind)
	require.Equal(t, map[string]int{"coal_ore": 6}, mining[0].Session.Counts)
	require.Len(t, sink.OfType(report.TypeSummary), 1)

	require.ErrorIs(t, h.Leave(ctx, "alex", 7000), ErrUnknownActor)
}

func TestHub_LeaveFlushesActiveSessions(t *testing.T) {
	h, sink := newManualHub(t, nil)
	ctx := context.Background()
	require.NoError(t, h.Dispatch(ctx, "alex", breakAt(0, "stone", 0, 64, 0)))
	require.NoError(t, h.Dispatch(ctx, "alex", actor.Action{Kind: actor.BlockPlace, At: 10, Block: "dirt", Pos: &geom.Vec3i{}}))
	require.NoError(t, h.Leave(ctx, "alex", 100))

	all := sink.Envelopes()
	require.Len(t, all, 4)
	require.Equal(t, report.TypeActivity, all[0].Type)
	require.Equal(t, report.TypeMining, all[1].Type)
	require.Equal(t, report.TypeConstruction, all[2].Type)
	require.Equal(t, report.TypeSummary, all[3].Type)
}

func TestHub_PreloadSuppressesKnownDiscoveries(t *testing.T) {
	store := discovery.NewMemStore()
	require.NoError(t, store.PutDiscovery("alex", discovery.Entry{Category: discovery.CategoryOres, Item: "iron_ore"}))
	h, sink := newManualHub(t, store)
	ctx := context.Background()

	require.NoError(t, h.Dispatch(ctx, "alex", breakAt(0, "iron_ore", 0, 50, 0)))
	require.NoError(t, h.Dispatch(ctx, "alex", breakAt(10, "gold_ore", 1, 50, 0)))
	require.NoError(t, h.Leave(ctx, "alex", 20))

	disc := sink.OfType(report.TypeDiscovery)
	require.Len(t, disc, 1)
	require.Equal(t, "gold_ore", disc[0].Discovery.Item)
}

func TestHub_ActorsRunIndependently(t *testing.T) {
	h, sink := newManualHub(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		id := fmt.Sprintf("actor-%02d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, h.Dispatch(ctx, id, breakAt(int64(j)*100, "stone", j, 70, 0)))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 16, h.Len())

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.Close(closeCtx))

	mining := sink.OfType(report.TypeMining)
	require.Len(t, mining, 16)
	for _, e := range mining {
		require.Equal(t, 20, e.Session.Counts["stone"], e.ActorID)
	}
	require.Len(t, sink.OfType(report.TypeSummary), 16)

	require.ErrorIs(t, h.Dispatch(ctx, "late", breakAt(0, "stone", 0, 0, 0)), ErrClosed)
	require.ErrorIs(t, h.Join("late"), ErrClosed)
}

func TestHub_TickerDrivesFlush(t *testing.T) {
	var sink reporttest.Collector
	tun := tuning.Defaults()
	var mu sync.Mutex
	now := int64(0)
	clock := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h := New(Config{Tuning: tun, Sink: &sink, TickInterval: 5 * time.Millisecond, Clock: clock})
	defer h.Close(context.Background())

	require.NoError(t, h.Dispatch(context.Background(), "alex", breakAt(0, "stone", 0, 64, 0)))
	mu.Lock()
	now = 2500
	mu.Unlock()

	require.Eventually(t, func() bool {
		return len(sink.OfType(report.TypeMining)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_StoppedWorkerRejectsSends(t *testing.T) {
	h, _ := newManualHub(t, nil)
	ctx := context.Background()

	require.NoError(t, h.Join("alex"))
	h.mu.Lock()
	w := h.workers["alex"]
	h.mu.Unlock()
	require.NotNil(t, w)
	require.NoError(t, h.Leave(ctx, "alex", 100))

	for i := 0; i < 100; i++ {
		err := w.send(ctx, msg{kind: msgAction, at: int64(i), action: breakAt(int64(i), "stone", i, 64, 0)})
		require.ErrorIs(t, err, ErrUnknownActor, "send %d", i)
	}
	require.Zero(t, len(w.inbox))
}

func TestHub_CloseKeepsEveryAcceptedAction(t *testing.T) {
	h, sink := newManualHub(t, nil)
	ctx := context.Background()

	require.NoError(t, h.Join("alex"))
	accepted := make(chan int, 1)
	go func() {
		n := 0
		for i := 0; i < 5000; i++ {
			if err := h.Dispatch(ctx, "alex", breakAt(int64(i/10), "stone", i, 64, 0)); err != nil {
				break
			}
			n++
		}
		accepted <- n
	}()
	time.Sleep(time.Millisecond)
	require.NoError(t, h.Close(ctx))
	n := <-accepted

	total := 0
	for _, r := range sink.OfType(report.TypeMining) {
		if r.Session.Kind == session.Final {
			total += r.Session.Counts["stone"]
		}
	}
	require.Equal(t, n, total)
}
