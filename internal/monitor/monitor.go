// Package monitor serves a live view of the plugin over HTTP: a websocket
// endpoint pushing every state change, and the prometheus metrics of the
// pipeline. The server implements the state sink interface so it can be
// fanned in next to the real Touch Portal client.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/curbz/tpxplane/pkg/util"
)

var log = logrus.WithField("logger", "Monitor")

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// stateEvent is the wire format pushed to websocket clients.
type stateEvent struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value"`
	Removed     bool   `json:"removed,omitempty"`
}

// Server exposes /live (websocket), /metrics (prometheus) and /healthz.
type Server struct {
	srv *http.Server

	mu           sync.Mutex
	states       map[string]string
	descriptions map[string]string
	conns        map[*websocket.Conn]struct{}
}

func New(addr string) *Server {
	s := &Server{
		states:       make(map[string]string),
		descriptions: make(map[string]string),
		conns:        make(map[*websocket.Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/live", s.liveHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		log.Infof("monitor listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("monitor: %v", err)
		}
	}()
}

// Stop shuts the server down, closing live connections.
func (s *Server) Stop() {
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("monitor shutdown: %v", err)
	}
}

// liveHandler upgrades the connection, sends a snapshot of every known
// state, then registers the connection for change pushes.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade: %v", err)
		return
	}

	s.mu.Lock()
	snapshot := make([]stateEvent, 0, len(s.states))
	for id, value := range s.states {
		snapshot = append(snapshot, stateEvent{ID: id, Description: s.descriptions[id], Value: value})
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	for _, ev := range snapshot {
		if err := util.SendJSON(conn, ev); err != nil {
			s.drop(conn)
			return
		}
	}

	// drain (and discard) client frames so pings and closes are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// broadcast pushes one event to every live connection, dropping broken ones.
func (s *Server) broadcast(ev stateEvent) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := util.SendJSON(c, ev); err != nil {
			s.drop(c)
		}
	}
}

// --- State sink implementation ---

func (s *Server) CreateState(id, description, value string) {
	s.mu.Lock()
	s.states[id] = value
	s.descriptions[id] = description
	s.mu.Unlock()
	s.broadcast(stateEvent{ID: id, Description: description, Value: value})
}

func (s *Server) StateUpdate(id, value string) {
	s.mu.Lock()
	s.states[id] = value
	desc := s.descriptions[id]
	s.mu.Unlock()
	s.broadcast(stateEvent{ID: id, Description: desc, Value: value})
}

func (s *Server) RemoveState(id string) {
	s.mu.Lock()
	delete(s.states, id)
	delete(s.descriptions, id)
	s.mu.Unlock()
	s.broadcast(stateEvent{ID: id, Removed: true})
}

func (s *Server) IsConnected() bool { return true }
