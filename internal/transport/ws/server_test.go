package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"voxelwatch.ai/internal/ingest"
	"voxelwatch.ai/internal/protocol"
	"voxelwatch.ai/internal/track/hub"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/report/reporttest"
	"voxelwatch.ai/internal/track/session"
	"voxelwatch.ai/internal/track/tuning"
)

type memRecorder struct {
	mu   sync.Mutex
	recs []ingest.Record
}

func (m *memRecorder) WriteRecord(r ingest.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memRecorder) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r.Type)
	}
	return out
}

func startServer(t *testing.T) (*httptest.Server, *reporttest.Collector, *memRecorder, *Server) {
	t.Helper()
	v, err := protocol.NewValidator()
	require.NoError(t, err)

	var sink reporttest.Collector
	var clock int64
	var clockMu sync.Mutex
	h := hub.New(hub.Config{
		Tuning: tuning.Defaults(),
		Sink:   &sink,
		Clock: func() int64 {
			clockMu.Lock()
			defer clockMu.Unlock()
			clock += 10
			return clock
		},
	})
	rec := &memRecorder{}
	s := NewServer(Config{Hub: h, Validator: v, Capture: rec, TuningDigest: "abc"})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Close(ctx)
	})
	return srv, &sink, rec, s
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func hello(t *testing.T, conn *websocket.Conn, actorID string) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","actor_id":"`+actorID+`","actor_name":"Steve"}`)
	var w protocol.WelcomeMsg
	readJSON(t, conn, &w)
	return w
}

func TestServer_SessionLifecycle(t *testing.T) {
	srv, sink, rec, s := startServer(t)
	conn := dial(t, srv)

	w := hello(t, conn, "steve")
	require.Equal(t, protocol.TypeWelcome, w.Type)
	require.Equal(t, "steve", w.ActorID)
	require.Equal(t, "abc", w.TuningDigest)
	require.NotEmpty(t, w.SessionID)

	send(t, conn, `{"type":"ACTION","protocol_version":"1.0","kind":"BLOCK_BREAK","block":"stone","pos":[1,60,1]}`)
	send(t, conn, `{"type":"ACTION","protocol_version":"1.0","kind":"FLY"}`)
	send(t, conn, `{"type":"ACTION","protocol_version":"1.0","kind":"BLOCK_BREAK","block":"stone","pos":[2,60,1]}`)
	send(t, conn, `{"type":"LEAVE","protocol_version":"1.0"}`)

	var e protocol.ErrorMsg
	readJSON(t, conn, &e)
	require.Equal(t, protocol.TypeError, e.Type)
	require.Equal(t, protocol.ErrProtoBadRequest, e.Code)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected normal close, got %v", err)

	mining := sink.OfType(report.TypeMining)
	require.Len(t, mining, 1)
	require.Equal(t, session.Final, mining[0].Session.Kind)
	require.Equal(t, map[string]int{"stone": 2}, mining[0].Session.Counts)
	require.Len(t, sink.OfType(report.TypeSummary), 1)

	require.Equal(t, []string{protocol.TypeAction, protocol.TypeAction, protocol.TypeLeave}, rec.types())
	st := s.Stats()
	require.Equal(t, uint64(3), st.Accepted)
	require.Equal(t, uint64(1), st.Rejected)
}

func TestServer_CloseWithoutLeaveStillFinalizes(t *testing.T) {
	srv, sink, rec, s := startServer(t)
	conn := dial(t, srv)
	hello(t, conn, "alex")
	send(t, conn, `{"type":"ACTION","protocol_version":"1.0","kind":"BLOCK_PLACE","block":"oak_planks","pos":[0,64,0]}`)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(sink.OfType(report.TypeSummary)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, sink.OfType(report.TypeConstruction), 1)
	require.Eventually(t, func() bool { return s.Stats().Connected == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{protocol.TypeAction, protocol.TypeLeave}, rec.types())
}

func TestServer_RejectsBadHandshakeAndDuplicateActor(t *testing.T) {
	srv, _, _, _ := startServer(t)

	bad := dial(t, srv)
	send(t, bad, `{"type":"ACTION","protocol_version":"1.0","kind":"DEATH"}`)
	var e protocol.ErrorMsg
	readJSON(t, bad, &e)
	require.Equal(t, protocol.ErrProtoBadRequest, e.Code)

	first := dial(t, srv)
	hello(t, first, "steve")

	second := dial(t, srv)
	send(t, second, `{"type":"HELLO","protocol_version":"1.0","actor_id":"steve"}`)
	readJSON(t, second, &e)
	require.Equal(t, protocol.ErrConflict, e.Code)
}

func TestServer_RejectsWrongProtocolVersion(t *testing.T) {
	srv, sink, _, _ := startServer(t)
	conn := dial(t, srv)
	hello(t, conn, "steve")

	send(t, conn, `{"type":"ACTION","protocol_version":"2.0","kind":"DEATH"}`)
	var e protocol.ErrorMsg
	readJSON(t, conn, &e)
	require.Equal(t, protocol.ErrProtoBadRequest, e.Code)
	require.Contains(t, e.Message, "protocol_version")

	send(t, conn, `{"type":"LEAVE","protocol_version":"1.0"}`)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Len(t, sink.OfType(report.TypeSummary), 1)
}
