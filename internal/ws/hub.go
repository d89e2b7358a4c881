package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/devreload/backend/internal/config"
	"github.com/google/uuid"
)

// Transport is the write side of one connected client. The owning
// session releases it exactly once, on destruction. The websocket
// server wraps *websocket.Conn in this interface; tests inject fakes.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Session is one connected consumer of orchestration messages.
// All fields are guarded by the hub's mutex.
type session struct {
	id             string
	transport      Transport
	connectedAt    time.Time
	lastActivityAt time.Time
	alive          bool
	released       bool
}

// release closes the transport exactly once.
func (s *session) release() {
	if s.released {
		return
	}
	s.released = true
	if err := s.transport.Close(); err != nil {
		log.Printf("[hub] session %s transport close: %v", s.id, err)
	}
}

// SessionStats is the introspection view of the hub.
type SessionStats struct {
	Total int `json:"total"`
	Alive int `json:"alive"`
	Stale int `json:"stale"`
}

// Hub is the client session registry. It owns all sessions for its
// lifetime, tracks their liveness via the heartbeat sweep, and
// delivers orchestration messages with per-client failure isolation.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	cfg       *config.Config
	heartbeat time.Duration
	now       func() time.Time // test seam
}

func NewHub(cfg *config.Config) *Hub {
	hb := cfg.Clients.HeartbeatInterval
	if hb <= 0 {
		hb = 30 * time.Second
	}
	return &Hub{
		sessions:  make(map[string]*session),
		cfg:       cfg,
		heartbeat: hb,
		now:       time.Now,
	}
}

// Connect registers a transport as a new session and immediately sends
// it a connected message with its id and the configuration snapshot.
func (h *Hub) Connect(t Transport) string {
	now := h.now()
	s := &session{
		id:             uuid.NewString(),
		transport:      t,
		connectedAt:    now,
		lastActivityAt: now,
		alive:          true,
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	msg := Message{
		Type: MsgConnected,
		Payload: ConnectedPayload{
			SessionID: s.id,
			Config:    h.cfg.Snapshot(),
		},
		SentAt: now,
	}
	if !h.deliver(s.id, t, msg) {
		return s.id
	}

	log.Printf("[hub] session connected: %s", s.id)
	return s.id
}

// Disconnect removes a session and releases its transport. Idempotent:
// disconnecting an unknown or already-removed id is a no-op.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
		s.release()
	}
	h.mu.Unlock()

	if ok {
		log.Printf("[hub] session disconnected: %s", id)
	}
}

// RecordActivity updates a session's last-activity time. Called for
// every inbound message, including protocol-level pings. A stale
// session becomes alive again. Unknown ids are a no-op.
func (h *Hub) RecordActivity(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return
	}
	s.lastActivityAt = h.now()
	if !s.alive {
		s.alive = true
		log.Printf("[hub] session %s active again", id)
	}
}

// Broadcast delivers a message to every alive session. Per-session
// delivery failures are logged and isolated; they never stop iteration
// over the remaining sessions.
func (h *Hub) Broadcast(msg Message) {
	if msg.SentAt.IsZero() {
		msg.SentAt = h.now()
	}

	type target struct {
		id string
		t  Transport
	}

	h.mu.RLock()
	targets := make([]target, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.alive {
			targets = append(targets, target{s.id, s.transport})
		}
	}
	h.mu.RUnlock()

	for _, tg := range targets {
		h.deliver(tg.id, tg.t, msg)
	}
}

// SendTo delivers a message to one session. Reports false when the
// session is unknown or delivery failed.
func (h *Hub) SendTo(id string, msg Message) bool {
	if msg.SentAt.IsZero() {
		msg.SentAt = h.now()
	}

	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.deliver(id, s.transport, msg)
}

// deliver sends one marshaled message to one transport. A transport
// failure destroys that session.
func (h *Hub) deliver(id string, t Transport, msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] marshal %s message: %v", msg.Type, err)
		return false
	}
	if err := t.Send(data); err != nil {
		log.Printf("[hub] delivery to session %s failed: %v", id, err)
		h.Disconnect(id)
		return false
	}
	return true
}

// Sweep marks sessions with no activity for more than twice the
// heartbeat interval as stale. Stale sessions are excluded from
// broadcasts but not disconnected; only an explicit close event
// destroys a session.
func (h *Hub) Sweep(now time.Time) {
	cutoff := 2 * h.heartbeat

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		if s.alive && now.Sub(s.lastActivityAt) > cutoff {
			s.alive = false
			log.Printf("[hub] session %s stale (last activity %s ago)", s.id, now.Sub(s.lastActivityAt).Round(time.Second))
		}
	}
}

// Run executes the heartbeat sweep on a fixed interval until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Sweep(now)
		}
	}
}

// Stats returns session counts for the status endpoint.
func (h *Hub) Stats() SessionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := SessionStats{Total: len(h.sessions)}
	for _, s := range h.sessions {
		if s.alive {
			st.Alive++
		} else {
			st.Stale++
		}
	}
	return st
}

// Close disconnects every session, releasing each transport.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.release()
		delete(h.sessions, id)
	}
}
