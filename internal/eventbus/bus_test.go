package eventbus

import (
	"testing"
	"time"

	"github.com/harryaskham/io-mcp/pkg/models"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(8, nil)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.EmitSessionCreated("sess-1", nil)

	select {
	case e := <-sub.Events:
		if e.EventType != models.EventSessionCreated || e.SessionID != "sess-1" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New(1, nil)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.EmitSessionCreated("sess", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked despite a full, unread subscriber queue")
	}
}

func TestDeadSubscriberUnsubscribedOpportunistically(t *testing.T) {
	b := New(1, nil)
	b.Subscribe() // never read: fills, then drops a full queue's worth

	b.EmitSessionCreated("sess", nil) // fills the queue
	b.EmitSessionCreated("sess", nil) // first drop reaches the dead threshold

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected the never-draining subscriber unsubscribed, got %d", b.SubscriberCount())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4, nil)
	sub := b.Subscribe()
	sub.Unsubscribe()

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}

	// Publishing after unsubscribe must not panic.
	b.EmitSessionCreated("sess", nil)
}

func TestSubscriberCount(t *testing.T) {
	b := New(4, nil)
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers initially")
	}
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	if b.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.SubscriberCount())
	}
	s1.Unsubscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.SubscriberCount())
	}
	s2.Unsubscribe()
}
