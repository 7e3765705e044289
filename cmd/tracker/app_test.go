package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	persistlog "voxelwatch.ai/internal/persistence/log"
	"voxelwatch.ai/internal/protocol"
	"voxelwatch.ai/internal/track/report"
	"voxelwatch.ai/internal/track/tuning"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestApp_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	rt, err := newApp(appConfig{DataDir: dir, Capture: true}, tuning.Defaults(), nil)
	require.NoError(t, err)
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	obs, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/reports"), nil)
	require.NoError(t, err)
	defer obs.Close()
	require.NoError(t, obs.WriteMessage(websocket.TextMessage, []byte(`{"type":"SUBSCRIBE","protocol_version":"1.0","types":["DISCOVERY"]}`)))
	require.Eventually(t, func() bool { return rt.observer.Stats().Subscribers == 1 }, 5*time.Second, 5*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/ingest"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO","protocol_version":"1.0","actor_id":"steve"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var welcome protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(b, &welcome))
	require.Equal(t, tuning.Defaults().Digest(), welcome.TuningDigest)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ACTION","protocol_version":"1.0","kind":"BLOCK_BREAK","block":"diamond_ore","pos":[3,12,-7]}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"LEAVE","protocol_version":"1.0"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "close: %v", err)

	_ = obs.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err = obs.ReadMessage()
	require.NoError(t, err)
	var frame protocol.ReportMsg
	require.NoError(t, json.Unmarshal(b, &frame))
	var env report.Envelope
	require.NoError(t, json.Unmarshal(frame.Report, &env))
	require.Equal(t, report.TypeDiscovery, env.Type)
	require.Equal(t, "diamond_ore", env.Discovery.Item)

	require.Eventually(t, func() bool {
		var hist []report.Envelope
		if err := json.Unmarshal([]byte(get(t, srv.URL+"/v1/history?actor_id=steve&type=DISCOVERY")), &hist); err != nil {
			return false
		}
		return len(hist) == 1 && hist[0].Discovery.Item == "diamond_ore"
	}, 5*time.Second, 20*time.Millisecond)

	metricsText := get(t, srv.URL+"/metrics")
	require.Contains(t, metricsText, `voxelwatch_reports_total{type="SUMMARY"} 1`)
	require.Contains(t, metricsText, "voxelwatch_active_actors 0")
	require.Equal(t, "ok", get(t, srv.URL+"/healthz"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))

	segs, err := persistlog.ListSegments(filepath.Join(dir, "capture"), "actions")
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	segs, err = persistlog.ListSegments(filepath.Join(dir, "reports"), "reports")
	require.NoError(t, err)
	require.NotEmpty(t, segs)
}

func TestApp_DisabledIndexHasNoHistory(t *testing.T) {
	rt, err := newApp(appConfig{DataDir: t.TempDir(), DisableDB: true}, tuning.Defaults(), nil)
	require.NoError(t, err)
	defer func() { _ = rt.Close(context.Background()) }()
	require.Nil(t, rt.idx)
	require.Nil(t, rt.capture)

	req := httptest.NewRequest(http.MethodGet, "/v1/history?actor_id=steve", nil)
	req.RemoteAddr = "127.0.0.1:9000"
	rw := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rw, req)
	require.Equal(t, http.StatusNotFound, rw.Code)
}

func TestLoadTuningFallsBackToDefaults(t *testing.T) {
	tune, err := loadTuning(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	require.Equal(t, tuning.Defaults().Digest(), tune.Digest())

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mining: {quiet_timeout_ms: -1}\n"), 0o644))
	_, err = loadTuning(bad, nil)
	require.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("VW_TEST_BOOL", "true")
	t.Setenv("VW_TEST_INT", "-3")
	require.True(t, envBool("VW_TEST_BOOL", false))
	require.False(t, envBool("VW_TEST_UNSET", false))
	require.Equal(t, 7, envInt("VW_TEST_INT", 7))

	t.Setenv("VW_R2_MIRROR", "true")
	_, err := buildR2MirrorRuntime(t.TempDir(), nil)
	require.Error(t, err)
}
