// Package collab provides a console-based implementation of
// session.Collaborator: the one concrete way an operator attached to this
// process's stdio can drive present_choices/present_multi_select/speak
// dialogs. The UI proper (tmux panes, overlay rendering) stays out of
// scope; this is the minimal terminal stand-in so `iobroker serve` is
// runnable standalone.
package collab

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/harryaskham/io-mcp/internal/inbox"
	"github.com/harryaskham/io-mcp/internal/session"
	"github.com/harryaskham/io-mcp/internal/tts"
	"github.com/harryaskham/io-mcp/pkg/models"
)

// Speaker is the subset of *tts.Engine the console collaborator needs.
type Speaker interface {
	Speak(ctx context.Context, text string, opts tts.SpeakOpts) error
}

// Console renders inbox items to an io.Writer and reads operator responses
// from a bufio.Scanner over an io.Reader. All stdio access is serialized:
// only one session's dialog is actually interactive at a time, since a
// terminal can only hold one conversation.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	scan  *bufio.Scanner
	speak Speaker
	log   *slog.Logger
}

// New builds a Console collaborator reading from in and writing to out.
func New(in io.Reader, out io.Writer, speak Speaker, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{out: out, scan: bufio.NewScanner(in), speak: speak, log: log}
}

// Present implements session.Collaborator.
func (c *Console) Present(ctx context.Context, sess *session.Session, item *inbox.Item) error {
	switch item.Kind {
	case inbox.KindSpeech:
		return c.presentSpeech(ctx, sess, item)
	case inbox.KindMultiSelect:
		return c.presentMultiSelect(sess, item)
	default:
		// choices and confirm both resolve from item.Choices (confirm is
		// synthesised as a two-choice approve/deny dialog).
		return c.presentChoices(ctx, sess, item)
	}
}

// speakOpts converts the session's speech knobs into engine options.
func speakOpts(st session.TTSSettings) tts.SpeakOpts {
	return tts.SpeakOpts{Voice: st.Voice, Emotion: st.Emotion, Model: st.Model, Speed: st.Speed}
}

func (c *Console) presentSpeech(ctx context.Context, sess *session.Session, item *inbox.Item) error {
	name, st := sess.SpeechSettings()
	if c.speak != nil {
		if err := c.speak.Speak(ctx, item.Text, speakOpts(st)); err != nil {
			c.log.Warn("speak failed", "session_id", sess.ID, "err", err)
		}
	} else {
		c.mu.Lock()
		fmt.Fprintf(c.out, "[%s] %s\n", name, item.Text)
		c.mu.Unlock()
	}
	sess.RecordSpeech(item.Text)
	item.Resolve(inbox.Result{Selected: models.SentinelSpeechDone})
	return nil
}

// announce speaks text to the operator, falling back to printing it.
func (c *Console) announce(ctx context.Context, sess *session.Session, text string) {
	if c.speak != nil {
		_, st := sess.SpeechSettings()
		if err := c.speak.Speak(ctx, text, speakOpts(st)); err != nil {
			c.log.Warn("announce failed", "session_id", sess.ID, "err", err)
		}
		return
	}
	fmt.Fprintln(c.out, text)
}

func (c *Console) presentChoices(ctx context.Context, sess *session.Session, item *inbox.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item.Preamble != "" {
		fmt.Fprintln(c.out, item.Preamble)
	}
	for i, choice := range item.Choices {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, choice.Label)
	}
	fmt.Fprint(c.out, "> ")

	if !c.scan.Scan() {
		item.Resolve(inbox.Result{Selected: models.SentinelCancelled})
		return nil
	}
	line := strings.TrimSpace(c.scan.Text())

	switch line {
	case "u", "undo":
		// Roll back the most recent resolved selection. The dispatcher
		// consumes the sentinel and re-enqueues the same item, so the
		// agent never observes it.
		if _, depth, ok := sess.PopUndo(); ok {
			c.announce(ctx, sess, fmt.Sprintf("Undo. %d more available", depth))
		}
		item.Resolve(inbox.Result{Selected: models.SentinelUndo})
		return nil
	case "s", "skip":
		item.Resolve(inbox.Result{Selected: models.SentinelSkip})
		return nil
	}

	idx, err := strconv.Atoi(line)
	if err != nil || idx < 1 || idx > len(item.Choices) {
		if line == "" {
			item.Resolve(inbox.Result{Selected: models.SentinelCancelled})
			return nil
		}
		// Anything that isn't an index or a command is free-form operator
		// input, surfaced to the agent as such.
		item.Resolve(inbox.Result{Selected: line, Summary: "(freeform input)"})
		return nil
	}
	chosen := item.Choices[idx-1]
	item.Resolve(inbox.Result{Selected: chosen.Label, Summary: chosen.Summary})
	return nil
}

func (c *Console) presentMultiSelect(sess *session.Session, item *inbox.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item.Preamble != "" {
		fmt.Fprintln(c.out, item.Preamble)
	}
	for i, choice := range item.Choices {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, choice.Label)
	}
	fmt.Fprint(c.out, "> (comma-separated) ")

	if !c.scan.Scan() {
		item.Resolve(inbox.Result{Selected: models.SentinelCancelled})
		return nil
	}
	line := strings.TrimSpace(c.scan.Text())
	if line == "" {
		item.Resolve(inbox.Result{SelectedMulti: nil})
		return nil
	}
	var selected []string
	for _, part := range strings.Split(line, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || idx < 1 || idx > len(item.Choices) {
			continue
		}
		selected = append(selected, item.Choices[idx-1].Label)
	}
	item.Resolve(inbox.Result{SelectedMulti: selected})
	return nil
}
