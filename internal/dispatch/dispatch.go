// Package dispatch implements the tool dispatcher:
// translates incoming tool invocations into inbox enqueues or immediate
// actions, and shapes every failure path into the stable
// {error, tool, suggestion} JSON.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/harryaskham/io-mcp/internal/eventbus"
	"github.com/harryaskham/io-mcp/internal/inbox"
	"github.com/harryaskham/io-mcp/internal/session"
	"github.com/harryaskham/io-mcp/internal/tts"
	"github.com/harryaskham/io-mcp/pkg/models"
)

// Blocking/non-blocking wait budgets
const (
	BlockingTimeout    = 5 * time.Minute
	NonBlockingTimeout = 10 * time.Second
)

// registrationReminder is appended to every response while the session
// is not yet registered.
const registrationReminder = "\n\n(reminder: call register_session first to enable full functionality)"

// Dispatcher is constructor-injected with every collaborator it needs
// (config, event bus, session manager, TTS engine)
// "global singletons → explicit context" design note.
type Dispatcher struct {
	manager *session.Manager
	bus     *eventbus.Bus
	ttsEng  *tts.Engine
	log     *slog.Logger

	choicesSchema      *jsonschema.Schema
	registeredFilePath string
}

// New builds a Dispatcher. registeredFilePath is the well-known persisted
// registered-sessions file; pass "" to disable persistence.
func New(manager *session.Manager, bus *eventbus.Bus, ttsEng *tts.Engine, registeredFilePath string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		manager:            manager,
		bus:                bus,
		ttsEng:             ttsEng,
		log:                log,
		choicesSchema:      compileChoicesSchema(),
		registeredFilePath: registeredFilePath,
	}
}

// choicesSchemaSrc validates {preamble: string, choices: [{label, summary?, flags?}]}
// before enqueue: malformed args fail schema
// validation rather than reaching a generic panic-recovery error.
const choicesSchemaSrc = `{
  "type": "object",
  "required": ["preamble", "choices"],
  "properties": {
    "preamble": {"type": "string"},
    "choices": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["label"],
        "properties": {
          "label": {"type": "string"},
          "summary": {"type": "string"},
          "flags": {"type": "object"}
        }
      }
    }
  }
}`

func compileChoicesSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("choices.json", strings.NewReader(choicesSchemaSrc)); err != nil {
		panic(fmt.Sprintf("dispatch: invalid embedded choices schema: %v", err))
	}
	schema, err := compiler.Compile("choices.json")
	if err != nil {
		panic(fmt.Sprintf("dispatch: compile embedded choices schema: %v", err))
	}
	return schema
}

// Invocation is one decoded tool call, already carrying a stable session
// identifier from the transport ("already-decoded tool
// invocations" boundary).
type Invocation struct {
	SessionID string
	ToolName  string
	Args      json.RawMessage
	Owner     context.Context // caller's cancellation signal
}

// Response is the dispatcher's result: either Result (success) or Err
// (the stable tool-error shape), never both.
type Response struct {
	Result any
	Err    *models.ToolError
}

// Dispatch resolves the session, runs the named handler, drains pending
// operator messages into the response, and appends the registration
// reminder when needed. Handlers never panic across this boundary; any
// handler-side failure is normalized into the stable
// {error, tool, suggestion} shape.
func (d *Dispatcher) Dispatch(inv Invocation) Response {
	sess, created := d.manager.GetOrCreate(inv.SessionID)
	if created {
		d.bus.EmitSessionCreated(inv.SessionID, map[string]any{"name": sess.Name})
	}
	sess.TouchActivity(inv.ToolName)

	resp := d.invokeSafely(sess, inv)

	pending := sess.DrainPendingMessages()
	resp = mergePendingMessages(resp, pending)

	if !sess.IsRegistered() && resp.Err == nil {
		resp = appendReminder(resp)
	}
	return resp
}

// invokeSafely runs the named handler and recovers any panic into the
// stable error shape.
func (d *Dispatcher) invokeSafely(sess *session.Session, inv Invocation) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("%v", r)
			if len(msg) > 200 {
				msg = msg[:200]
			}
			resp = Response{Err: toolErrPtr(inv.ToolName, msg)}
		}
	}()

	handler, ok := d.handlers()[inv.ToolName]
	if !ok {
		return Response{Err: toolErrPtr(inv.ToolName, "unknown tool: "+inv.ToolName)}
	}
	return handler(sess, inv)
}

func toolErrPtr(tool, msg string) *models.ToolError {
	e := models.NewToolError(tool, msg)
	return &e
}

func mergePendingMessages(resp Response, pending []string) Response {
	if len(pending) == 0 {
		return resp
	}
	if resp.Err != nil {
		return resp
	}
	switch v := resp.Result.(type) {
	case map[string]any:
		v["user_messages"] = pending
		resp.Result = v
	case string:
		resp.Result = v + "\n\nuser_messages: " + fmt.Sprint(pending)
	default:
		resp.Result = map[string]any{"result": v, "user_messages": pending}
	}
	return resp
}

func appendReminder(resp Response) Response {
	switch v := resp.Result.(type) {
	case string:
		resp.Result = v + registrationReminder
	case map[string]any:
		v["reminder"] = registrationReminder
		resp.Result = v
	}
	return resp
}

// waitForLatch blocks on item's completion latch up to timeout. On
// timeout it returns false; the item is left in the queue (not dequeued)
// for the next orphan sweep to resolve.
func waitForLatch(ctx context.Context, item *inbox.Item, timeout time.Duration) (*inbox.Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-item.Latch():
		return item.Result, true
	case <-ctx.Done():
		return nil, false
	}
}

// validateJSON checks raw against schema before the handler unmarshals
// it, giving malformed-args callers a schema-validation error instead of
// a generic panic-recovery error.
func validateJSON(schema *jsonschema.Schema, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
