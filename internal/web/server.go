// Package web provides an HTTP status and control server for the ferm-relay daemon.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sweeney/ferm-relay/internal/control"
	"github.com/sweeney/ferm-relay/internal/status"
)

// EnqueueTimeout bounds how long a control request waits for room in the
// command queue before giving up with 503.
const EnqueueTimeout = 2 * time.Second

// Server serves the status page over HTTP and queues relay commands for the
// control loop. It never touches a relay directly.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	cmds       chan<- control.Command
}

// CommandJSON is the response body for an accepted relay command.
type CommandJSON struct {
	Relay     string `json:"relay"`
	Requested string `json:"requested"`
	Queued    bool   `json:"queued"`
}

// New creates a Server that reads state from the given tracker and sends
// relay commands to cmds. A nil cmds makes the server read-only: relay
// requests are refused with 403.
func New(addr string, tracker *status.Tracker, cmds chan<- control.Command) *Server {
	s := &Server{tracker: tracker, cmds: cmds}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/relay/", s.handleRelay)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleRelay accepts POST /relay/<name>/on and POST /relay/<name>/off.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/relay/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	name, action := parts[0], parts[1]

	var on bool
	switch action {
	case "on":
		on = true
	case "off":
		on = false
	default:
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.tracker.Has(name) {
		http.Error(w, "unknown relay", http.StatusNotFound)
		return
	}
	if s.cmds == nil {
		http.Error(w, "relay control disabled", http.StatusForbidden)
		return
	}

	cmd := control.Command{Relay: name, On: on, Source: "http"}
	timer := time.NewTimer(EnqueueTimeout)
	defer timer.Stop()

	select {
	case s.cmds <- cmd:
	case <-r.Context().Done():
		return
	case <-timer.C:
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(CommandJSON{
		Relay:     name,
		Requested: status.StateName(on),
		Queued:    true,
	})
}
