package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harryaskham/io-mcp/internal/eventbus"
	"github.com/harryaskham/io-mcp/internal/session"
)

// Server is the frontend HTTP API server, bound to loopback by default.
type Server struct {
	manager *session.Manager
	bus     *eventbus.Bus
	log     *slog.Logger

	httpServer *http.Server
	startedAt  time.Time
	version    string
	backendURL string
}

// New builds a Server. addr defaults to loopback on the standard
// frontend API port if empty.
func New(manager *session.Manager, bus *eventbus.Bus, addr, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = "127.0.0.1:8445"
	}

	s := &Server{manager: manager, bus: bus, log: log, startedAt: time.Now(), version: version}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionMessage)
	mux.HandleFunc("/api/message", s.handleBroadcastMessage)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/tool", s.handleToolProxy)
	mux.Handle("/metrics", promhttp.Handler())

	handler := chain(mux, CORSMiddleware, LoggingMiddleware(log))
	s.httpServer = &http.Server{Addr: addr, Handler: handler}
	return s
}

// SetBackendURL points the /api/tool proxy route at the backend
// tool-call listener (e.g. "http://127.0.0.1:8444"). Must be called
// before ListenAndServe; without it the route answers 502.
func (s *Server) SetBackendURL(url string) {
	s.backendURL = url
}

// handleToolProxy forwards a tool invocation to the backend listener so
// browser-side clients only ever talk to the frontend origin. Upstream
// HTTP errors pass through unchanged; only connection-level failures are
// retried (inside ForwardToBackend) before surfacing as 502.
func (s *Server) handleToolProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.backendURL == "" {
		writeError(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := ForwardToBackend(nil, s.backendURL+"/tool", body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	defer resp.Body.Close()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth implements `GET /api/health`
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Seconds(),
	})
}

type sessionListEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	Registered bool   `json:"registered"`
	Cwd        string `json:"cwd"`
	Hostname   string `json:"hostname"`
}

// handleSessions implements `GET /api/sessions`: session
// listing in tab order.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries := []sessionListEntry{}
	for _, sess := range s.manager.AllSessions() {
		snap := sess.Snapshot()
		entries = append(entries, sessionListEntry{
			ID: snap.ID, Name: snap.Name, Active: snap.Active,
			Registered: snap.Registered, Cwd: snap.Cwd, Hostname: snap.Hostname,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

type messageBody struct {
	Text string `json:"text"`
}

// handleSessionMessage implements `POST /api/sessions/<id>/message`.
func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := parseSessionMessagePath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	sess, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pending := sess.EnqueuePendingMessage(body.Text)
	s.bus.Publish(newMessageEvent(sess.ID, body.Text))
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// parseSessionMessagePath extracts <id> from "/api/sessions/<id>/message".
func parseSessionMessagePath(path string) (string, bool) {
	const prefix = "/api/sessions/"
	const suffix = "/message"
	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}
	if path[:len(prefix)] != prefix {
		return "", false
	}
	rest := path[len(prefix):]
	if len(rest) <= len(suffix) || rest[len(rest)-len(suffix):] != suffix {
		return "", false
	}
	return rest[:len(rest)-len(suffix)], true
}

type broadcastBody struct {
	Text   string `json:"text"`
	Target string `json:"target"` // "all" | "active"
}

// handleBroadcastMessage implements `POST /api/message`
func (s *Server) handleBroadcastMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body broadcastBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	count := 0
	if body.Target == "active" {
		if sess, ok := s.manager.Focused(); ok {
			sess.EnqueuePendingMessage(body.Text)
			s.bus.Publish(newMessageEvent(sess.ID, body.Text))
			count = 1
		}
	} else {
		for _, sess := range s.manager.AllSessions() {
			sess.EnqueuePendingMessage(body.Text)
			s.bus.Publish(newMessageEvent(sess.ID, body.Text))
			count++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}
