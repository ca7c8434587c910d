package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harryaskham/io-mcp/internal/eventbus"
	"github.com/harryaskham/io-mcp/internal/inbox"
	"github.com/harryaskham/io-mcp/internal/session"
	"github.com/harryaskham/io-mcp/pkg/models"
)

// routingCollab resolves choices items from a per-session channel, so a
// test can hold two sessions' presentations open at once and resolve
// them independently.
type routingCollab struct {
	mu         sync.Mutex
	selections map[string]chan string
}

func newRoutingCollab() *routingCollab {
	return &routingCollab{selections: make(map[string]chan string)}
}

func (r *routingCollab) channelFor(sessionID string) chan string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.selections[sessionID]
	if !ok {
		ch = make(chan string, 4)
		r.selections[sessionID] = ch
	}
	return ch
}

func (r *routingCollab) Present(ctx context.Context, sess *session.Session, item *inbox.Item) error {
	if item.Kind == inbox.KindSpeech {
		item.Resolve(inbox.Result{Selected: models.SentinelSpeechDone})
		return nil
	}
	sel := <-r.channelFor(sess.ID)
	item.Resolve(inbox.Result{Selected: sel})
	return nil
}

// Two agents block on present_choices at the same time; each is resolved
// only by its own operator selection, with no cross-resolution.
func TestConcurrentAgentsResolveIndependently(t *testing.T) {
	collab := newRoutingCollab()
	bus := eventbus.New(eventbus.DefaultQueueSize, nil)
	manager := session.NewManager(collab, bus, nil)
	d := New(manager, bus, nil, "", nil)

	type outcome struct {
		id   string
		resp Response
	}
	results := make(chan outcome, 2)

	call := func(sessionID, preamble string, labels []string) {
		choices := make([]map[string]any, len(labels))
		for i, l := range labels {
			choices[i] = map[string]any{"label": l}
		}
		resp := d.Dispatch(Invocation{
			SessionID: sessionID,
			ToolName:  "present_choices",
			Args:      rawArgs(t, map[string]any{"preamble": preamble, "choices": choices}),
		})
		results <- outcome{id: sessionID, resp: resp}
	}

	go call("a", "Pick A", []string{"x", "y"})
	go call("b", "Pick B", []string{"p", "q"})

	// Wait until both sessions have their item in flight, then resolve A
	// first and B second.
	waitForQueue(t, manager, "a")
	waitForQueue(t, manager, "b")

	collab.channelFor("a") <- "y"
	first := <-results
	if first.id != "a" {
		t.Fatalf("expected session a to return first, got %q", first.id)
	}
	sel, ok := first.resp.Result.(models.SelectionResult)
	if !ok || sel.Selected != "y" {
		t.Fatalf("expected a to resolve to y, got %+v", first.resp.Result)
	}

	collab.channelFor("b") <- "p"
	second := <-results
	if second.id != "b" {
		t.Fatalf("expected session b to return second, got %q", second.id)
	}
	sel, ok = second.resp.Result.(models.SelectionResult)
	if !ok || sel.Selected != "p" {
		t.Fatalf("expected b to resolve to p, got %+v", second.resp.Result)
	}
}

func waitForQueue(t *testing.T, manager *session.Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess, ok := manager.Get(id); ok && sess.QueueLen() > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for session %q to enqueue its item", id)
}
