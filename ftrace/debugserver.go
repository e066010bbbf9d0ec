package ftrace

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	log "github.com/golang/glog"
	"github.com/gorilla/mux"
)

// DebugServer exposes a small, read-only introspection surface over a
// ConfigMuxer's session state, for local debugging, per SPEC_FULL §12.3.
// Grounded on server/server.go's mux.Router + http.HandlerFunc wiring,
// trimmed to a read-only JSON surface (the teacher's server also serves
// static frontend assets and mutating storage endpoints, neither of which
// has a place in this module's scope).
type DebugServer struct {
	mu     sync.Mutex
	muxers map[string]*ConfigMuxer

	router *mux.Router
}

// NewDebugServer constructs a server with no registered instances yet;
// call Register as each tracefs instance's muxer comes up.
func NewDebugServer() *DebugServer {
	s := &DebugServer{muxers: map[string]*ConfigMuxer{}}
	r := mux.NewRouter()
	r.HandleFunc("/debug/ftrace/instances", s.handleInstances).Methods(http.MethodGet)
	r.HandleFunc("/debug/ftrace/instances/{instance}/sessions", s.handleSessions).Methods(http.MethodGet)
	s.router = r
	return s
}

// Register makes instanceName's muxer visible under /debug/ftrace/instances.
func (s *DebugServer) Register(instanceName string, m *ConfigMuxer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muxers[instanceName] = m
}

// Unregister removes instanceName, e.g. once its tracefs instance is torn
// down.
func (s *DebugServer) Unregister(instanceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.muxers, instanceName)
}

// ServeHTTP implements http.Handler.
func (s *DebugServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *DebugServer) handleInstances(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	names := make([]string, 0, len(s.muxers))
	for name := range s.muxers {
		names = append(names, name)
	}
	s.mu.Unlock()
	writeJSON(w, names)
}

type sessionSummary struct {
	SessionID   uint64 `json:"session_id"`
	Active      bool   `json:"active"`
	EventCount  int    `json:"event_count"`
	DiagEmpty   bool   `json:"diagnostics_empty"`
}

func (s *DebugServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	instance := mux.Vars(r)["instance"]
	s.mu.Lock()
	m, ok := s.muxers[instance]
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("unknown instance %q", instance), http.StatusNotFound)
		return
	}

	m.mu.Lock()
	summaries := make([]sessionSummary, 0, len(m.sessions))
	for id, sess := range m.sessions {
		summaries = append(summaries, sessionSummary{
			SessionID:  id,
			Active:     sess.phase == phaseActive,
			EventCount: len(sess.events),
			DiagEmpty:  sess.out == nil || sess.out.Diagnostics.Empty(),
		})
	}
	m.mu.Unlock()

	writeJSON(w, summaries)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warningf("debug server: encoding response: %v", err)
	}
}
