package collab

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/harryaskham/io-mcp/internal/inbox"
	"github.com/harryaskham/io-mcp/internal/session"
	"github.com/harryaskham/io-mcp/pkg/models"
)

func newTestConsole(input string) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	return New(strings.NewReader(input), &out, nil, nil), &out
}

func choicesItem(labels ...string) *inbox.Item {
	item := inbox.New(inbox.KindChoices, context.Background())
	item.Preamble = "pick one"
	for _, l := range labels {
		item.Choices = append(item.Choices, models.Choice{Label: l, Summary: l + " summary"})
	}
	return item
}

func TestPresentChoicesResolvesByIndex(t *testing.T) {
	c, out := newTestConsole("2\n")
	sess := session.New("s1")
	item := choicesItem("alpha", "beta")

	if err := c.Present(context.Background(), sess, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Result == nil || item.Result.Selected != "beta" {
		t.Fatalf("expected beta selected, got %+v", item.Result)
	}
	if item.Result.Summary != "beta summary" {
		t.Fatalf("expected choice summary carried through, got %q", item.Result.Summary)
	}
	if !strings.Contains(out.String(), "pick one") {
		t.Fatalf("expected the preamble rendered, got %q", out.String())
	}
}

func TestPresentChoicesFreeformInput(t *testing.T) {
	c, _ := newTestConsole("ship it anyway\n")
	sess := session.New("s1")
	item := choicesItem("alpha", "beta")

	if err := c.Present(context.Background(), sess, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Result == nil || item.Result.Selected != "ship it anyway" {
		t.Fatalf("expected freeform text surfaced as the selection, got %+v", item.Result)
	}
	if item.Result.Summary != "(freeform input)" {
		t.Fatalf("expected the freeform summary flag, got %q", item.Result.Summary)
	}
}

func TestPresentChoicesUndoPopsStackAndAnnouncesDepth(t *testing.T) {
	c, out := newTestConsole("u\n")
	sess := session.New("s1")
	for i := 0; i < 3; i++ {
		sess.PushUndo(session.UndoEntry{Preamble: "p", Selection: "s"})
	}
	item := choicesItem("alpha")

	if err := c.Present(context.Background(), sess, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Result == nil || item.Result.Selected != models.SentinelUndo {
		t.Fatalf("expected the undo sentinel, got %+v", item.Result)
	}
	if _, depth, ok := sess.PopUndo(); !ok || depth != 1 {
		t.Fatalf("expected stack popped to depth 2 by undo (then 1 here), got depth=%d ok=%v", depth, ok)
	}
	if !strings.Contains(out.String(), "Undo. 2 more available") {
		t.Fatalf("expected the undo depth announcement, got %q", out.String())
	}
}

func TestPresentChoicesEOFCancels(t *testing.T) {
	c, _ := newTestConsole("")
	sess := session.New("s1")
	item := choicesItem("alpha")

	if err := c.Present(context.Background(), sess, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Result == nil || item.Result.Selected != models.SentinelCancelled {
		t.Fatalf("expected cancelled on EOF, got %+v", item.Result)
	}
}

func TestPresentMultiSelectParsesCommaSeparatedIndexes(t *testing.T) {
	c, _ := newTestConsole("1, 3\n")
	sess := session.New("s1")
	item := inbox.New(inbox.KindMultiSelect, context.Background())
	item.Choices = []models.Choice{{Label: "a"}, {Label: "b"}, {Label: "c"}}

	if err := c.Present(context.Background(), sess, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := item.Result.SelectedMulti
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("expected [a c], got %v", got)
	}
}

func TestPresentSpeechWithoutSpeakerPrintsAndLogs(t *testing.T) {
	c, out := newTestConsole("")
	sess := session.New("s1")
	item := inbox.New(inbox.KindSpeech, context.Background())
	item.Text = "status update"

	if err := c.Present(context.Background(), sess, item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.Result == nil || item.Result.Selected != models.SentinelSpeechDone {
		t.Fatalf("expected speech resolved with _speech_done, got %+v", item.Result)
	}
	if !strings.Contains(out.String(), "status update") {
		t.Fatalf("expected the text printed when no speaker is attached, got %q", out.String())
	}
	if len(sess.SpeechLog) != 1 || sess.SpeechLog[0].Text != "status update" {
		t.Fatalf("expected the phrase recorded in the speech log, got %+v", sess.SpeechLog)
	}
}
