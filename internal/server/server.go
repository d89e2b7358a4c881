package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/devreload/backend/internal/aggregate"
	"github.com/devreload/backend/internal/change"
	"github.com/devreload/backend/internal/classify"
	"github.com/devreload/backend/internal/config"
	"github.com/devreload/backend/internal/ws"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"
)

// Server exposes the engine over HTTP: the websocket connect hook, the
// status introspection read, the operator reload trigger, and the
// change-injection boundary used by external watch processes.
type Server struct {
	cfg            *config.Config
	hub            *ws.Hub
	registry       *classify.Registry
	orch           *aggregate.Orchestrator
	agg            *aggregate.Aggregator
	startedAt      time.Time
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func New(cfg *config.Config, hub *ws.Hub, registry *classify.Registry, orch *aggregate.Orchestrator, agg *aggregate.Aggregator) *Server {
	s := &Server{
		cfg:            cfg,
		hub:            hub,
		registry:       registry,
		orch:           orch,
		agg:            agg,
		startedAt:      time.Now(),
		authToken:      cfg.Server.AuthToken,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/reload", s.handleReload)
	mux.HandleFunc("/api/changes", s.handleChanges)
	mux.HandleFunc("/api/plugins/", s.handlePluginRoutes)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] ws upgrade error: %v", err)
		return
	}

	t := newConnTransport(conn)
	id := s.hub.Connect(t)
	log.Printf("[server] client connected: %s (%s)", id, r.RemoteAddr)

	// Ping and pong control frames are consumed inside ReadMessage and
	// never surface to the read loop, so liveness has to be recorded in
	// the control handlers. The ping handler keeps the default pong
	// reply behavior.
	conn.SetPingHandler(func(appData string) error {
		s.hub.RecordActivity(id)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		if e, ok := err.(net.Error); ok && e.Temporary() {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		s.hub.RecordActivity(id)
		return nil
	})

	go func() {
		defer s.hub.Disconnect(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			// Data frames count as activity too.
			s.hub.RecordActivity(id)
		}
	}()
}

// StatusPayload is the response shape of /api/status.
type StatusPayload struct {
	UptimeSeconds float64               `json:"uptimeSeconds"`
	Plugins       classify.PluginStats  `json:"plugins"`
	Sessions      ws.SessionStats       `json:"sessions"`
	Batches       int64                 `json:"batches"`
	Reloads       int64                 `json:"reloads"`
	Ignored       aggregate.IgnoreStats `json:"ignored"`
	Process       ProcessStats          `json:"process"`
}

// ProcessStats reports the server's own resource usage.
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	batches, reloads, ignored := s.orch.Stats()
	payload := StatusPayload{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Plugins:       s.registry.Stats(),
		Sessions:      s.hub.Stats(),
		Batches:       batches,
		Reloads:       reloads,
		Ignored:       ignored,
		Process:       selfProcessStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// selfProcessStats collects CPU and memory usage of this process.
// Returns zero values when the lookup fails.
func selfProcessStats() ProcessStats {
	st := ProcessStats{PID: os.Getpid()}
	p, err := process.NewProcess(int32(st.PID))
	if err != nil {
		return st
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	return st
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual trigger"
	}
	s.orch.ForceReload(reason)
	w.WriteHeader(http.StatusNoContent)
}

// changeRequest is the wire form accepted by /api/changes. External
// watch processes POST one event or an array of events.
type changeRequest struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var reqs []changeRequest
	if err := json.Unmarshal(body, &reqs); err != nil {
		// Fall back to a single object body.
		var single changeRequest
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			http.Error(w, fmt.Sprintf("invalid body: %v", err2), http.StatusBadRequest)
			return
		}
		reqs = []changeRequest{single}
	}

	// Validate the whole payload before offering anything, so a bad
	// entry rejects the request without injecting a prefix of the batch.
	now := time.Now()
	events := make([]change.Event, 0, len(reqs))
	for _, req := range reqs {
		if req.Path == "" {
			http.Error(w, "missing path", http.StatusBadRequest)
			return
		}
		kind, err := change.ParseKind(req.Kind)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		events = append(events, change.Event{Path: req.Path, Kind: kind, ObservedAt: now})
	}

	for _, ev := range events {
		s.agg.Offer(ev)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"accepted": len(events)})
}

func (s *Server) handlePluginRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse: /api/plugins/{name}/enable|disable
	path := strings.TrimPrefix(r.URL.Path, "/api/plugins/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	name, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid plugin name", http.StatusBadRequest)
		return
	}

	var enabled bool
	switch parts[1] {
	case "enable":
		enabled = true
	case "disable":
		enabled = false
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if !s.registry.SetEnabled(name, enabled) {
		http.Error(w, "plugin not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Reload-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
