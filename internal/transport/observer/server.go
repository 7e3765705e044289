// Package observer streams report envelopes to loopback observers over
// WebSocket and serves the indexed report history.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelwatch.ai/internal/protocol"
	"voxelwatch.ai/internal/track/report"
)

const (
	subscriberBuffer  = 1024
	maxSubscribeItems = 256
	maxHistoryLimit   = 500
)

// History is the indexed report store behind /v1/history.
type History interface {
	RecentReports(ctx context.Context, actorID string, typ report.Type, limit int) ([]report.Envelope, error)
}

type Stats struct {
	Subscribers  int
	SentTotal    uint64
	DroppedTotal uint64
}

// Server is a report.Sink: every emitted envelope is offered to each
// matching subscriber without blocking the emitter.
type Server struct {
	validator *protocol.Validator
	log       *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.RWMutex
	subs map[string]*subscriber

	sent    atomic.Uint64
	dropped atomic.Uint64
}

type subscriber struct {
	out chan []byte

	mu     sync.Mutex
	actors map[string]struct{}
	types  map[report.Type]struct{}
}

func NewServer(v *protocol.Validator, logger *log.Logger) *Server {
	return &Server{
		validator: v,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]*subscriber{},
	}
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	n := len(s.subs)
	s.mu.RUnlock()
	return Stats{Subscribers: n, SentTotal: s.sent.Load(), DroppedTotal: s.dropped.Load()}
}

func (s *Server) Emit(e report.Envelope) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.subs) == 0 {
		return
	}

	var frame []byte
	for _, sub := range s.subs {
		if !sub.wants(e) {
			continue
		}
		if frame == nil {
			b, err := encodeReport(e)
			if err != nil {
				s.logf("observer encode failed id=%s err=%v", e.ID, err)
				return
			}
			frame = b
		}
		select {
		case sub.out <- frame:
			s.sent.Add(1)
		default:
			if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
				s.logf("observer queue full dropped_total=%d", n)
			}
		}
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := s.decodeSubscribe(msg)
		if err != nil {
			_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		subr := &subscriber{out: make(chan []byte, subscriberBuffer)}
		subr.apply(sub)
		s.mu.Lock()
		s.subs[sid] = subr
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-subr.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := s.decodeSubscribe(msg)
			if err != nil {
				continue
			}
			subr.apply(sub)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// HistoryHandler serves GET /v1/history?actor_id=&type=&limit= from the index.
func (s *Server) HistoryHandler(h History) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if h == nil {
			http.Error(rw, "history disabled", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		actorID := strings.TrimSpace(q.Get("actor_id"))
		if actorID == "" {
			http.Error(rw, "actor_id is required", http.StatusBadRequest)
			return
		}
		limit := 50
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(rw, "bad limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxHistoryLimit)
		}
		typ := report.Type(strings.ToUpper(strings.TrimSpace(q.Get("type"))))

		out, err := h.RecentReports(r.Context(), actorID, typ, limit)
		if err != nil {
			s.logf("history query failed actor=%s err=%v", actorID, err)
			http.Error(rw, "internal error", http.StatusInternalServerError)
			return
		}
		if out == nil {
			out = []report.Envelope{}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(out)
	}
}

func (s *Server) decodeSubscribe(msg []byte) (protocol.SubscribeMsg, error) {
	var sub protocol.SubscribeMsg
	if s.validator != nil {
		if err := s.validator.Validate(protocol.TypeSubscribe, msg); err != nil {
			return sub, err
		}
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, err
	}
	if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
		return sub, fmt.Errorf("expected SUBSCRIBE %s", protocol.Version)
	}
	normalizeSubscribe(&sub)
	return sub, nil
}

func (sub *subscriber) apply(m protocol.SubscribeMsg) {
	actors := map[string]struct{}{}
	for _, id := range m.ActorIDs {
		actors[id] = struct{}{}
	}
	types := map[report.Type]struct{}{}
	for _, t := range m.Types {
		types[report.Type(t)] = struct{}{}
	}
	sub.mu.Lock()
	sub.actors, sub.types = actors, types
	sub.mu.Unlock()
}

func (sub *subscriber) wants(e report.Envelope) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.actors) > 0 {
		if _, ok := sub.actors[e.ActorID]; !ok {
			return false
		}
	}
	if len(sub.types) > 0 {
		if _, ok := sub.types[e.Type]; !ok {
			return false
		}
	}
	return true
}

// normalizeSubscribe trims, upper-cases types and caps both filter lists.
func normalizeSubscribe(sub *protocol.SubscribeMsg) {
	clean := func(in []string, upper bool) []string {
		out := in[:0]
		for _, v := range in {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if upper {
				v = strings.ToUpper(v)
			}
			out = append(out, v)
			if len(out) == maxSubscribeItems {
				break
			}
		}
		return out
	}
	sub.ActorIDs = clean(sub.ActorIDs, false)
	sub.Types = clean(sub.Types, true)
}

func encodeReport(e report.Envelope) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(protocol.ReportMsg{
		Type:            protocol.TypeReport,
		ProtocolVersion: protocol.Version,
		Report:          raw,
	})
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
