// Package ws accepts actor event streams over WebSocket. Each connection
// carries one actor: HELLO first, then ACTION messages until LEAVE or close.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelwatch.ai/internal/ingest"
	"voxelwatch.ai/internal/protocol"
	"voxelwatch.ai/internal/track/hub"
)

const (
	handshakeTimeout = 5 * time.Second
	idleTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	// dispatchWait bounds how long a message may wait on a full actor inbox.
	dispatchWait = 2 * time.Second
)

// Recorder receives every accepted, stamped record. The capture logger implements it.
type Recorder interface {
	WriteRecord(ingest.Record) error
}

type Stats struct {
	Connected int
	Accepted  uint64
	Rejected  uint64
}

type Server struct {
	hub       *hub.Hub
	validator *protocol.Validator
	capture   Recorder
	digest    string
	log       *log.Logger

	upgrader websocket.Upgrader

	mu        sync.Mutex
	connected map[string]string // actor id -> session id

	accepted atomic.Uint64
	rejected atomic.Uint64
}

type Config struct {
	Hub       *hub.Hub
	Validator *protocol.Validator
	// Capture is optional.
	Capture      Recorder
	TuningDigest string
	Logger       *log.Logger
}

func NewServer(cfg Config) *Server {
	return &Server{
		hub:       cfg.Hub,
		validator: cfg.Validator,
		capture:   cfg.Capture,
		digest:    cfg.TuningDigest,
		log:       cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		connected: map[string]string{},
	}
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.connected)
	s.mu.Unlock()
	return Stats{Connected: n, Accepted: s.accepted.Load(), Rejected: s.rejected.Load()}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		actorID, sessionID := s.handshake(conn)
		if actorID == "" {
			return
		}
		defer s.release(actorID)

		left := s.serve(conn, actorID, sessionID)
		if left {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		}

		// Socket closed without LEAVE: disconnect is still a forced flush.
		ctx, cancel := context.WithTimeout(context.Background(), dispatchWait)
		defer cancel()
		rec := ingest.Record{At: s.hub.Now(), ActorID: actorID, SessionID: sessionID, Type: protocol.TypeLeave}
		s.record(rec)
		if err := ingest.Apply(ctx, s.hub, rec); err != nil {
			s.logf("leave on close failed actor=%s err=%v", actorID, err)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (actorID, sessionID string) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		closePolicy(conn, "expected HELLO")
		return "", ""
	}
	if err := s.validator.Validate(protocol.TypeHello, msg); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, err.Error())
		closePolicy(conn, "bad HELLO")
		return "", ""
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
		closePolicy(conn, "bad protocol_version")
		return "", ""
	}
	actorID = strings.TrimSpace(hello.ActorID)
	if actorID == "" {
		s.reject(conn, protocol.ErrProtoBadRequest, "empty actor_id")
		closePolicy(conn, "empty actor_id")
		return "", ""
	}

	sessionID = uuid.NewString()
	s.mu.Lock()
	if _, busy := s.connected[actorID]; busy {
		s.mu.Unlock()
		s.reject(conn, protocol.ErrConflict, fmt.Sprintf("actor %s already connected", actorID))
		closePolicy(conn, "actor already connected")
		return "", ""
	}
	s.connected[actorID] = sessionID
	s.mu.Unlock()

	if err := s.hub.Join(actorID); err != nil {
		s.release(actorID)
		s.reject(conn, protocol.ErrInternal, err.Error())
		return "", ""
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		ActorID:         actorID,
		ServerTimeMs:    s.hub.Now(),
		TuningDigest:    s.digest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.release(actorID)
		return "", ""
	}
	s.logf("actor joined actor=%s name=%q session=%s", actorID, hello.ActorName, sessionID)
	return actorID, sessionID
}

// serve runs the reader loop. It reports whether the actor left with LEAVE.
func (s *Server) serve(conn *websocket.Conn, actorID, sessionID string) bool {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			s.reject(conn, protocol.ErrProtoBadRequest, "malformed json")
			continue
		}
		if base.ProtocolVersion != protocol.Version {
			s.reject(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
			continue
		}

		switch base.Type {
		case protocol.TypeAction:
			if err := s.validator.Validate(protocol.TypeAction, msg); err != nil {
				s.reject(conn, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			var act protocol.ActionMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				s.reject(conn, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			rec := ingest.Record{At: s.hub.Now(), ActorID: actorID, SessionID: sessionID, Type: protocol.TypeAction, Action: &act}
			if fatal := s.apply(conn, rec); fatal {
				return false
			}
		case protocol.TypeLeave:
			if err := s.validator.Validate(protocol.TypeLeave, msg); err != nil {
				s.reject(conn, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			rec := ingest.Record{At: s.hub.Now(), ActorID: actorID, SessionID: sessionID, Type: protocol.TypeLeave}
			s.apply(conn, rec)
			s.logf("actor left actor=%s session=%s", actorID, sessionID)
			return true
		default:
			s.reject(conn, protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type))
		}
	}
}

// apply stamps, captures and routes one record. fatal means the hub is gone.
func (s *Server) apply(conn *websocket.Conn, rec ingest.Record) (fatal bool) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchWait)
	defer cancel()

	err := ingest.Apply(ctx, s.hub, rec)
	switch {
	case err == nil:
		s.accepted.Add(1)
		s.record(rec)
		return false
	case errors.Is(err, ingest.ErrBadAction):
		s.reject(conn, protocol.ErrBadRequest, err.Error())
		return false
	case errors.Is(err, context.DeadlineExceeded):
		s.reject(conn, protocol.ErrRateLimit, "actor inbox full")
		return false
	case errors.Is(err, hub.ErrClosed), errors.Is(err, hub.ErrUnknownActor):
		s.reject(conn, protocol.ErrInternal, "server shutting down")
		return true
	default:
		s.reject(conn, protocol.ErrInternal, err.Error())
		return false
	}
}

func (s *Server) record(rec ingest.Record) {
	if s.capture == nil {
		return
	}
	if err := s.capture.WriteRecord(rec); err != nil {
		s.logf("capture write failed actor=%s err=%v", rec.ActorID, err)
	}
}

func (s *Server) release(actorID string) {
	s.mu.Lock()
	delete(s.connected, actorID)
	s.mu.Unlock()
}

func (s *Server) reject(conn *websocket.Conn, code, message string) {
	s.rejected.Add(1)
	_ = writeJSON(conn, protocol.NewError(code, message))
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
