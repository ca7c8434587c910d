package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/harryaskham/io-mcp/internal/dispatch"
	"github.com/harryaskham/io-mcp/internal/session"
)

// SendAPI is the human-side REST listener: a thin surface letting a CLI
// (or script) drive the broker — speak text, present choices, drain
// queued messages — without wrapping itself in an agent's full tool-call
// envelope. Sessions auto-create on first use; no registration needed.
type SendAPI struct {
	dispatcher *dispatch.Dispatcher
	manager    *session.Manager
	log        *slog.Logger
	httpServer *http.Server
}

// NewSendAPI builds the send listener. addr defaults to loopback on the
// standard send port if empty.
func NewSendAPI(dispatcher *dispatch.Dispatcher, manager *session.Manager, addr string, log *slog.Logger) *SendAPI {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		addr = "127.0.0.1:8446"
	}

	s := &SendAPI{dispatcher: dispatcher, manager: manager, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/speak", s.handleSpeak("speak"))
	mux.HandleFunc("/speak-async", s.handleSpeak("speak_async"))
	mux.HandleFunc("/choices", s.handleChoices)
	mux.HandleFunc("/inbox", s.handleInbox)

	handler := chain(mux, CORSMiddleware, LoggingMiddleware(log))
	s.httpServer = &http.Server{Addr: addr, Handler: handler}
	return s
}

// ListenAndServe blocks serving send requests until the listener is shut
// down.
func (s *SendAPI) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (s *SendAPI) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// defaultSendSession is the session id used when a request omits one,
// matching the CLI sender's convention.
const defaultSendSession = "cli-sender"

type sendBody struct {
	SessionID string          `json:"session_id"`
	Text      string          `json:"text"`
	Preamble  string          `json:"preamble"`
	Choices   json.RawMessage `json:"choices"`
}

func decodeSendBody(w http.ResponseWriter, r *http.Request) (sendBody, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return sendBody{}, false
	}
	var body sendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return sendBody{}, false
	}
	if body.SessionID == "" {
		body.SessionID = defaultSendSession
	}
	return body, true
}

// handleSpeak implements `POST /speak` (blocking) and `POST /speak-async`,
// dispatching the corresponding tool so the text flows through the same
// session inbox as agent speech.
func (s *SendAPI) handleSpeak(tool string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeSendBody(w, r)
		if !ok {
			return
		}
		if body.Text == "" {
			writeError(w, http.StatusBadRequest, "missing text")
			return
		}
		args, _ := json.Marshal(map[string]any{"text": body.Text})
		resp := s.dispatcher.Dispatch(dispatch.Invocation{
			SessionID: body.SessionID,
			ToolName:  tool,
			Args:      args,
			Owner:     r.Context(),
		})
		if resp.Err != nil {
			writeJSON(w, http.StatusInternalServerError, resp.Err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": resp.Result})
	}
}

// handleChoices implements `POST /choices`: present the labels to the
// operator and block until a selection comes back. The response body is
// the selection shape itself ({selected, summary}), not wrapped, so a
// caller can read `selected` directly.
func (s *SendAPI) handleChoices(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeSendBody(w, r)
	if !ok {
		return
	}
	args, _ := json.Marshal(map[string]any{
		"preamble": body.Preamble,
		"choices":  body.Choices,
	})
	resp := s.dispatcher.Dispatch(dispatch.Invocation{
		SessionID: body.SessionID,
		ToolName:  "present_choices",
		Args:      args,
		Owner:     r.Context(),
	})
	if resp.Err != nil {
		writeJSON(w, http.StatusInternalServerError, resp.Err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Result)
}

// handleInbox implements `POST /inbox`: drain the session's queued
// operator messages. Unlike agent tool calls (which receive pending
// messages merged into their responses), a sender polls for them
// explicitly.
func (s *SendAPI) handleInbox(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeSendBody(w, r)
	if !ok {
		return
	}
	sess, _ := s.manager.GetOrCreate(body.SessionID)
	messages := sess.DrainPendingMessages()
	if messages == nil {
		messages = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
