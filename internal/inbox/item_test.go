package inbox

import (
	"context"
	"testing"
)

func TestNewAssignsIDAndLatch(t *testing.T) {
	it := New(KindChoices, context.Background())
	if it.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	select {
	case <-it.Latch():
		t.Fatal("latch should not be closed before Resolve")
	default:
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	it := New(KindSpeech, context.Background())
	it.Resolve(Result{Selected: "_speech_done"})
	if !it.Done {
		t.Fatal("expected Done after Resolve")
	}
	select {
	case <-it.Latch():
	default:
		t.Fatal("expected latch closed after Resolve")
	}

	// A second Resolve must not panic (closing a closed channel) or
	// overwrite the first result.
	it.Resolve(Result{Selected: "something_else"})
	if it.Result.Selected != "_speech_done" {
		t.Fatalf("second Resolve must be a no-op, got %q", it.Result.Selected)
	}
}

func TestOrphanedReportsCancelledOwner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	it := New(KindChoices, ctx)
	if it.Orphaned() {
		t.Fatal("expected not orphaned before cancel")
	}
	cancel()
	if !it.Orphaned() {
		t.Fatal("expected orphaned after owner context cancelled")
	}
}

func TestOrphanedNilOwnerNeverOrphaned(t *testing.T) {
	it := New(KindChoices, nil)
	if it.Orphaned() {
		t.Fatal("a nil owner should never be reported orphaned")
	}
}
