package session

import (
	"context"
	"testing"

	"github.com/harryaskham/io-mcp/internal/inbox"
	"github.com/harryaskham/io-mcp/pkg/models"
)

func TestEnqueueFIFOForNonUrgentItems(t *testing.T) {
	s := New("sess")
	a := inbox.New(inbox.KindChoices, context.Background())
	b := inbox.New(inbox.KindSpeech, context.Background())

	s.Enqueue(a)
	s.Enqueue(b)

	if s.QueueLen() != 2 {
		t.Fatalf("expected 2 queued items, got %d", s.QueueLen())
	}
	if head := s.PeekInbox(); head != a {
		t.Fatalf("expected FIFO order, got item %v first", head.ID)
	}
}

func TestEnqueueUrgentSpeechOvertakesNonUrgentTailSpeech(t *testing.T) {
	s := New("sess")
	head := inbox.New(inbox.KindChoices, context.Background())
	tailSpeech := inbox.New(inbox.KindSpeech, context.Background())
	urgent := inbox.New(inbox.KindSpeech, context.Background())
	urgent.Priority = 1

	s.Enqueue(head)
	s.Enqueue(tailSpeech)
	s.Enqueue(urgent)

	s.mu.Lock()
	order := append([]*inbox.Item(nil), s.inboxQueue...)
	s.mu.Unlock()

	if len(order) != 3 {
		t.Fatalf("expected 3 items, got %d", len(order))
	}
	if order[0] != head {
		t.Fatal("urgent speech must never displace the current head")
	}
	if order[1] != urgent {
		t.Fatalf("expected urgent speech to overtake the non-urgent tail speech item, got order %v", order)
	}
	if order[2] != tailSpeech {
		t.Fatal("expected the overtaken non-urgent speech item to remain queued after urgent")
	}
}

func TestEnqueueUrgentSpeechNeverSkipsChoicesItem(t *testing.T) {
	s := New("sess")
	choicesA := inbox.New(inbox.KindChoices, context.Background())
	choicesB := inbox.New(inbox.KindMultiSelect, context.Background())
	urgent := inbox.New(inbox.KindSpeech, context.Background())
	urgent.Blocking = true

	s.Enqueue(choicesA)
	s.Enqueue(choicesB)
	s.Enqueue(urgent)

	s.mu.Lock()
	order := append([]*inbox.Item(nil), s.inboxQueue...)
	s.mu.Unlock()

	// With no non-urgent speech in the tail, urgent speech falls to the
	// very end rather than jumping over queued choices/multi_select items.
	if order[len(order)-1] != urgent {
		t.Fatalf("expected urgent speech at tail when no speech item precedes it, got order %v", order)
	}
}

func TestPeekInboxDrainsConsecutiveOrphans(t *testing.T) {
	s := New("sess")

	cancelledCtx1, cancel1 := context.WithCancel(context.Background())
	cancel1()
	cancelledCtx2, cancel2 := context.WithCancel(context.Background())
	cancel2()

	orphanA := inbox.New(inbox.KindChoices, cancelledCtx1)
	orphanB := inbox.New(inbox.KindChoices, cancelledCtx2)
	live := inbox.New(inbox.KindChoices, context.Background())

	s.Enqueue(orphanA)
	s.Enqueue(orphanB)
	s.Enqueue(live)

	head := s.PeekInbox()
	if head != live {
		t.Fatalf("expected orphans to be drained and live item returned, got %v", head)
	}
	if orphanA.Result == nil || orphanA.Result.Selected != models.SentinelRestart {
		t.Fatalf("expected orphanA force-resolved with _restart, got %+v", orphanA.Result)
	}
	if orphanB.Result == nil || orphanB.Result.Selected != models.SentinelRestart {
		t.Fatalf("expected orphanB force-resolved with _restart, got %+v", orphanB.Result)
	}
	if len(s.DoneLog) != 2 {
		t.Fatalf("expected 2 done-log entries after draining orphans, got %d", len(s.DoneLog))
	}
}

func TestPeekInboxPopsDoneItems(t *testing.T) {
	s := New("sess")
	done := inbox.New(inbox.KindChoices, context.Background())
	done.Resolve(inbox.Result{Selected: "picked"})
	live := inbox.New(inbox.KindChoices, context.Background())

	s.Enqueue(done)
	s.Enqueue(live)

	if head := s.PeekInbox(); head != live {
		t.Fatalf("expected already-done head to be popped, got %v", head)
	}
}

func TestUndoStackCapAndMirror(t *testing.T) {
	s := New("sess")
	for i := 0; i < undoStackCap+2; i++ {
		s.PushUndo(UndoEntry{Preamble: "p", Selection: "s"})
	}
	s.mu.Lock()
	depth := len(s.UndoStack)
	s.mu.Unlock()
	if depth != undoStackCap {
		t.Fatalf("expected undo stack capped at %d, got %d", undoStackCap, depth)
	}

	_, newDepth, ok := s.PopUndo()
	if !ok || newDepth != undoStackCap-1 {
		t.Fatalf("expected pop to succeed with depth %d, got %d (ok=%v)", undoStackCap-1, newDepth, ok)
	}

	for {
		_, _, ok := s.PopUndo()
		if !ok {
			break
		}
	}
	s.mu.Lock()
	lastPreamble := s.LastPreamble
	s.mu.Unlock()
	if lastPreamble != "" {
		t.Fatal("expected mirror fields cleared once the undo stack is empty")
	}
}

func TestPendingMessagesDrainOnce(t *testing.T) {
	s := New("sess")
	if n := s.EnqueuePendingMessage("hello"); n != 1 {
		t.Fatalf("expected pending count 1, got %d", n)
	}
	s.EnqueuePendingMessage("world")

	drained := s.DrainPendingMessages()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained messages, got %d", len(drained))
	}
	if again := s.DrainPendingMessages(); again != nil {
		t.Fatalf("expected nil on second drain, got %v", again)
	}
}

func TestTouchActivityResetsHealth(t *testing.T) {
	s := New("sess")
	s.SetHealth(HealthUnresponsive)
	s.HealthAlertSpoken = true

	s.TouchActivity("speak")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HealthStatus != HealthHealthy {
		t.Fatalf("expected health reset to healthy, got %s", s.HealthStatus)
	}
	if s.HealthAlertSpoken {
		t.Fatal("expected HealthAlertSpoken cleared")
	}
	if s.ToolCallCount != 1 {
		t.Fatalf("expected ToolCallCount 1, got %d", s.ToolCallCount)
	}
}

func TestCancelAllPendingResolvesEveryItem(t *testing.T) {
	s := New("sess")
	a := inbox.New(inbox.KindChoices, context.Background())
	b := inbox.New(inbox.KindSpeech, context.Background())
	s.Enqueue(a)
	s.Enqueue(b)

	s.CancelAllPending()

	if a.Result == nil || a.Result.Selected != models.SentinelCancelled {
		t.Fatalf("expected a cancelled, got %+v", a.Result)
	}
	if b.Result == nil || b.Result.Selected != models.SentinelCancelled {
		t.Fatalf("expected b cancelled, got %+v", b.Result)
	}
	if s.QueueLen() != 0 {
		t.Fatalf("expected empty queue after CancelAllPending, got %d", s.QueueLen())
	}
}

func TestStatusGlyph(t *testing.T) {
	cases := []struct {
		snap Snapshot
		want string
	}{
		{Snapshot{Active: true, Health: HealthUnresponsive}, "●"},
		{Snapshot{Health: HealthWarning}, "⚠"},
		{Snapshot{Health: HealthUnresponsive}, "✗"},
		{Snapshot{Health: HealthHealthy}, ""},
	}
	for _, c := range cases {
		if got := c.snap.StatusGlyph(); got != c.want {
			t.Errorf("StatusGlyph(%+v) = %q, want %q", c.snap, got, c.want)
		}
	}
}
