package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/harryaskham/io-mcp/internal/inbox"
	"github.com/harryaskham/io-mcp/internal/session"
	"github.com/harryaskham/io-mcp/pkg/models"
)

type handlerFunc func(sess *session.Session, inv Invocation) Response

func (d *Dispatcher) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"register_session":     d.handleRegisterSession,
		"present_choices":      d.handlePresentChoices,
		"present_multi_select": d.handlePresentMultiSelect,
		"speak":                d.handleSpeak,
		"speak_async":          d.handleSpeakAsync,
		"speak_urgent":         d.handleSpeakUrgent,
		"run_command":          d.handleRunCommand,
		"set_voice":            d.handleSetVoice,
		"set_emotion":          d.handleSetEmotion,
		"set_speed":            d.handleSetSpeed,
		"set_model":            d.handleSetModel,
		"set_stt_model":        d.handleSetSTTModel,
		"request_close":        d.handleRequestClose,
	}
}

type registerArgs struct {
	Cwd         string         `json:"cwd"`
	Hostname    string         `json:"hostname"`
	TmuxSession string         `json:"tmux_session"`
	TmuxPane    string         `json:"tmux_pane"`
	Name        string         `json:"name"`
	Voice       string         `json:"voice"`
	Emotion     string         `json:"emotion"`
	Metadata    map[string]any `json:"metadata"`
}

// handleRegisterSession marks the session registered, rehydrates from a
// matching persisted record if one exists, and persists the updated
// registry.
func (d *Dispatcher) handleRegisterSession(sess *session.Session, inv Invocation) Response {
	var args registerArgs
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return Response{Err: toolErrPtr(inv.ToolName, "invalid arguments: "+err.Error())}
	}

	sess.ApplyRegistration(session.Registration{
		Name:        args.Name,
		Cwd:         args.Cwd,
		Hostname:    args.Hostname,
		TmuxSession: args.TmuxSession,
		TmuxPane:    args.TmuxPane,
		Voice:       args.Voice,
		Emotion:     args.Emotion,
		Metadata:    args.Metadata,
	})

	if rec, ok := d.manager.MatchRegistered(args.Name, args.Cwd); ok {
		sess.RestoreActivity(rec)
	}
	d.manager.SaveRegistered(d.registeredPath())

	return Response{Result: map[string]any{
		"session_id": sess.ID,
		"registered": true,
		"features":   []string{"present_choices", "present_multi_select", "speak", "speak_async", "speak_urgent", "run_command", "request_close"},
	}}
}

// registeredPath returns the persisted-metadata file location; a zero
// value means persistence is disabled (used in tests).
func (d *Dispatcher) registeredPath() string {
	return d.registeredFilePath
}

type choicesArgs struct {
	Preamble string          `json:"preamble"`
	Choices  []models.Choice `json:"choices"`
}

// handlePresentChoices enqueues a choices item and waits on the latch;
// `_undo` selections are consumed here (re-enqueued), never surfaced to
// the agent.
func (d *Dispatcher) handlePresentChoices(sess *session.Session, inv Invocation) Response {
	if err := validateJSON(d.choicesSchema, inv.Args); err != nil {
		return Response{Err: toolErrPtr(inv.ToolName, "invalid arguments: "+err.Error())}
	}
	var args choicesArgs
	_ = json.Unmarshal(inv.Args, &args)

	for {
		item := inbox.New(inbox.KindChoices, inv.Owner)
		item.Preamble = args.Preamble
		item.Choices = args.Choices
		item.Blocking = true

		sess.Enqueue(item)
		d.bus.EmitChoicesPresented(sess.ID, map[string]any{"preamble": args.Preamble})

		result, ok := waitForLatch(context.Background(), item, BlockingTimeout)
		if !ok {
			// The item stays queued (never dequeued here); the next orphan
			// sweep force-resolves it once the caller is gone.
			d.bus.EmitChoicesTimeout(sess.ID, map[string]any{"preamble": args.Preamble})
			return Response{Err: toolErrPtr(inv.ToolName, "timed out waiting for operator")}
		}

		if result.Selected == models.SentinelUndo {
			continue // consumed, never surfaced to the agent
		}

		sess.PushUndo(session.UndoEntry{Preamble: args.Preamble, Choices: args.Choices, Selection: result.Selected})
		return Response{Result: models.SelectionResult{Selected: result.Selected, Summary: result.Summary}}
	}
}

// handlePresentMultiSelect is analogous to handlePresentChoices but
// returns a list of selections
func (d *Dispatcher) handlePresentMultiSelect(sess *session.Session, inv Invocation) Response {
	if err := validateJSON(d.choicesSchema, inv.Args); err != nil {
		return Response{Err: toolErrPtr(inv.ToolName, "invalid arguments: "+err.Error())}
	}
	var args choicesArgs
	_ = json.Unmarshal(inv.Args, &args)

	item := inbox.New(inbox.KindMultiSelect, inv.Owner)
	item.Preamble = args.Preamble
	item.Choices = args.Choices
	item.Blocking = true

	sess.Enqueue(item)
	d.bus.EmitChoicesPresented(sess.ID, map[string]any{"preamble": args.Preamble, "multi_select": true})

	result, ok := waitForLatch(context.Background(), item, BlockingTimeout)
	if !ok {
		d.bus.EmitChoicesTimeout(sess.ID, map[string]any{"preamble": args.Preamble, "multi_select": true})
		return Response{Err: toolErrPtr(inv.ToolName, "timed out waiting for operator")}
	}
	return Response{Result: models.MultiSelectResult{Selected: result.SelectedMulti}}
}

type speechArgs struct {
	Text string `json:"text"`
}

// handleSpeak enqueues blocking speech and waits for playback completion.
func (d *Dispatcher) handleSpeak(sess *session.Session, inv Invocation) Response {
	var args speechArgs
	_ = json.Unmarshal(inv.Args, &args)

	item := inbox.New(inbox.KindSpeech, inv.Owner)
	item.Text = args.Text
	item.Blocking = true

	sess.Enqueue(item)
	d.bus.EmitSpeechRequested(sess.ID, map[string]any{"text": args.Text})

	if _, ok := waitForLatch(context.Background(), item, BlockingTimeout); !ok {
		return Response{Err: toolErrPtr(inv.ToolName, "timed out waiting for speech")}
	}
	return Response{Result: "Spoke: " + args.Text}
}

// handleSpeakAsync enqueues non-blocking speech and returns immediately.
func (d *Dispatcher) handleSpeakAsync(sess *session.Session, inv Invocation) Response {
	var args speechArgs
	_ = json.Unmarshal(inv.Args, &args)

	item := inbox.New(inbox.KindSpeech, inv.Owner)
	item.Text = args.Text
	item.Blocking = false

	sess.Enqueue(item)
	d.bus.EmitSpeechRequested(sess.ID, map[string]any{"text": args.Text, "async": true})

	return Response{Result: "queued"}
}

// handleSpeakUrgent enqueues blocking speech at priority 1, so it
// overtakes queued non-urgent speech but never queued choices.
func (d *Dispatcher) handleSpeakUrgent(sess *session.Session, inv Invocation) Response {
	var args speechArgs
	_ = json.Unmarshal(inv.Args, &args)

	item := inbox.New(inbox.KindSpeech, inv.Owner)
	item.Text = args.Text
	item.Blocking = true
	item.Priority = 1

	sess.Enqueue(item)
	d.bus.EmitSpeechRequested(sess.ID, map[string]any{"text": args.Text, "urgent": true})

	if _, ok := waitForLatch(context.Background(), item, BlockingTimeout); !ok {
		return Response{Err: toolErrPtr(inv.ToolName, "timed out waiting for speech")}
	}
	return Response{Result: "Spoke: " + args.Text}
}

type runCommandArgs struct {
	Cmd string `json:"cmd"`
}

// handleRunCommand synthesises a present_choices confirmation; on
// approve, runs the shell command with a 60s timeout and caps
// stdout/stderr
func (d *Dispatcher) handleRunCommand(sess *session.Session, inv Invocation) Response {
	var args runCommandArgs
	_ = json.Unmarshal(inv.Args, &args)

	item := inbox.New(inbox.KindConfirm, inv.Owner)
	item.Preamble = "Run command: " + args.Cmd
	item.Choices = []models.Choice{{Label: "approve"}, {Label: "deny"}}
	item.Blocking = true

	sess.Enqueue(item)
	d.bus.EmitChoicesPresented(sess.ID, map[string]any{"preamble": item.Preamble, "confirm": true})

	result, ok := waitForLatch(context.Background(), item, BlockingTimeout)
	if !ok {
		return Response{Err: toolErrPtr(inv.ToolName, "timed out waiting for confirmation")}
	}
	if result.Selected != "approve" {
		return Response{Result: map[string]any{"status": "denied"}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", args.Cmd)
	out, err := cmd.CombinedOutput()
	stdout := capOutput(string(out))

	resp := map[string]any{
		"status": "ok",
		"stdout": stdout,
		"stderr": "",
	}
	if err != nil {
		resp["status"] = "error"
		resp["returncode"] = cmd.ProcessState.ExitCode()
		resp["stderr"] = capOutput(err.Error())
	} else {
		resp["returncode"] = 0
	}
	return Response{Result: resp}
}

const maxCommandOutput = 4096

func capOutput(s string) string {
	if len(s) > maxCommandOutput {
		return s[:maxCommandOutput]
	}
	return s
}

type settingArgs struct {
	Value string `json:"value"`
}

// handleSetVoice/Emotion/Speed mutate session settings synchronously and
// clear the TTS cache (a changed voice/emotion/speed changes the cache
// key, so stale entries under the old key are simply orphaned — clearing
// is a courtesy to bound cache growth)
func (d *Dispatcher) handleSetVoice(sess *session.Session, inv Invocation) Response {
	var args settingArgs
	_ = json.Unmarshal(inv.Args, &args)
	sess.UpdateSettings(func(s *session.Session) { s.Voice = args.Value })
	d.manager.SaveRegistered(d.registeredPath())
	d.bus.EmitSettingsChanged(sess.ID, map[string]any{"voice": args.Value})
	if d.ttsEng != nil {
		d.ttsEng.ClearCache()
	}
	return Response{Result: fmt.Sprintf("voice set to %s", args.Value)}
}

func (d *Dispatcher) handleSetEmotion(sess *session.Session, inv Invocation) Response {
	var args settingArgs
	_ = json.Unmarshal(inv.Args, &args)
	sess.UpdateSettings(func(s *session.Session) { s.Emotion = args.Value })
	d.manager.SaveRegistered(d.registeredPath())
	d.bus.EmitSettingsChanged(sess.ID, map[string]any{"emotion": args.Value})
	if d.ttsEng != nil {
		d.ttsEng.ClearCache()
	}
	return Response{Result: fmt.Sprintf("emotion set to %s", args.Value)}
}

func (d *Dispatcher) handleSetSpeed(sess *session.Session, inv Invocation) Response {
	var args settingArgs
	_ = json.Unmarshal(inv.Args, &args)
	speed, err := strconv.ParseFloat(args.Value, 64)
	if err != nil || speed <= 0 {
		return Response{Err: toolErrPtr(inv.ToolName, "invalid speed: "+args.Value)}
	}
	sess.UpdateSettings(func(s *session.Session) { s.Speed = speed })
	d.manager.SaveRegistered(d.registeredPath())
	d.bus.EmitSettingsChanged(sess.ID, map[string]any{"speed": args.Value})
	if d.ttsEng != nil {
		d.ttsEng.ClearCache()
	}
	return Response{Result: fmt.Sprintf("speed set to %s", args.Value)}
}

// handleSetModel mutates the TTS synthesis model, synchronously. Like
// voice/emotion/speed, a changed model changes the cache key, so the
// cache is cleared.
func (d *Dispatcher) handleSetModel(sess *session.Session, inv Invocation) Response {
	var args settingArgs
	_ = json.Unmarshal(inv.Args, &args)
	sess.UpdateSettings(func(s *session.Session) { s.Model = args.Value })
	d.manager.SaveRegistered(d.registeredPath())
	d.bus.EmitSettingsChanged(sess.ID, map[string]any{"model": args.Value})
	if d.ttsEng != nil {
		d.ttsEng.ClearCache()
	}
	return Response{Result: fmt.Sprintf("model set to %s", args.Value)}
}

// handleSetSTTModel mutates the speech-to-text model used for operator
// input; the TTS cache is unaffected since STT doesn't key playback audio.
func (d *Dispatcher) handleSetSTTModel(sess *session.Session, inv Invocation) Response {
	var args settingArgs
	_ = json.Unmarshal(inv.Args, &args)
	sess.UpdateSettings(func(s *session.Session) { s.STTModel = args.Value })
	d.manager.SaveRegistered(d.registeredPath())
	d.bus.EmitSettingsChanged(sess.ID, map[string]any{"stt_model": args.Value})
	return Response{Result: fmt.Sprintf("stt_model set to %s", args.Value)}
}

// handleRequestClose synthesises a confirmation dialog; on approve the
// session is removed from the manager, which stops its drain loop and
// emits session_removed.
func (d *Dispatcher) handleRequestClose(sess *session.Session, inv Invocation) Response {
	item := inbox.New(inbox.KindConfirm, inv.Owner)
	item.Preamble = "Close this session?"
	item.Choices = []models.Choice{{Label: "approve"}, {Label: "deny"}}
	item.Blocking = true

	sess.Enqueue(item)
	d.bus.EmitChoicesPresented(sess.ID, map[string]any{"preamble": item.Preamble, "confirm": true})

	result, ok := waitForLatch(context.Background(), item, BlockingTimeout)
	if !ok {
		return Response{Err: toolErrPtr(inv.ToolName, "timed out waiting for confirmation")}
	}
	if result.Selected != "approve" {
		return Response{Result: map[string]any{"status": "denied"}}
	}

	d.manager.Remove(sess.ID)
	return Response{Result: map[string]any{"status": "closed"}}
}
