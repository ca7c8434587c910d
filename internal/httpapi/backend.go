package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/harryaskham/io-mcp/internal/dispatch"
)

// Backend is the tool-call listener: it decodes already-shaped tool
// invocations posted by an agent-side transport shim and hands them to
// the dispatcher. The RPC framing itself (MCP or otherwise) lives in the
// shim; the broker only sees {session_id, tool, args}.
type Backend struct {
	dispatcher *dispatch.Dispatcher
	log        *slog.Logger
	httpServer *http.Server
}

// NewBackend builds the backend listener. addr defaults to loopback on
// the standard backend port if empty.
func NewBackend(dispatcher *dispatch.Dispatcher, addr string, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = "127.0.0.1:8444"
	}

	b := &Backend{dispatcher: dispatcher, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/tool", b.handleTool)

	handler := chain(mux, CORSMiddleware, LoggingMiddleware(log))
	b.httpServer = &http.Server{Addr: addr, Handler: handler}
	return b
}

// ListenAndServe blocks serving tool calls until the listener is shut
// down.
func (b *Backend) ListenAndServe() error {
	return b.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (b *Backend) Shutdown(ctx context.Context) error {
	return b.httpServer.Shutdown(ctx)
}

type toolCallBody struct {
	SessionID string          `json:"session_id"`
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args"`
}

// handleTool decodes one tool invocation and dispatches it. The request
// context doubles as the caller's liveness signal: a shim that drops the
// connection orphans its inbox items, which the next peek sweeps.
func (b *Backend) handleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body toolCallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Tool == "" {
		writeError(w, http.StatusBadRequest, "missing tool name")
		return
	}
	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = fallbackSessionID(r)
	}
	args := body.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	resp := b.dispatcher.Dispatch(dispatch.Invocation{
		SessionID: sessionID,
		ToolName:  body.Tool,
		Args:      args,
		Owner:     r.Context(),
	})

	if resp.Err != nil {
		writeJSON(w, http.StatusOK, resp.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": resp.Result})
}

// fallbackSessionID derives a stable identity for callers whose shim
// sent no session_id, from the transport's remote address.
func fallbackSessionID(r *http.Request) string {
	sum := sha256.Sum256([]byte(r.RemoteAddr))
	return "anon-" + hex.EncodeToString(sum[:8])
}
