package session

import (
	"strings"
	"testing"
	"time"

	"github.com/harryaskham/io-mcp/internal/eventbus"
)

func newTestManager() *Manager {
	bus := eventbus.New(eventbus.DefaultQueueSize, nil)
	return NewManager(nil, bus, nil)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	m := newTestManager()
	a, created := m.GetOrCreate("s1")
	if !created {
		t.Fatal("expected created=true on first call")
	}
	b, created := m.GetOrCreate("s1")
	if created {
		t.Fatal("expected created=false on second call")
	}
	if a != b {
		t.Fatal("expected the same session instance returned")
	}
}

func TestRemoveStopsDrainLoopAndForgetsFocus(t *testing.T) {
	m := newTestManager()
	m.GetOrCreate("s1")
	m.Focus("s1")

	if !m.Remove("s1") {
		t.Fatal("expected Remove to succeed")
	}
	if _, ok := m.Focused(); ok {
		t.Fatal("expected focus cleared after removing the focused session")
	}
	if _, ok := m.Get("s1"); ok {
		t.Fatal("expected session gone after Remove")
	}
}

func TestAllSessionsPreservesInsertionOrder(t *testing.T) {
	m := newTestManager()
	m.GetOrCreate("a")
	m.GetOrCreate("b")
	m.GetOrCreate("c")

	got := m.AllSessions()
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Fatalf("expected insertion order a,b,c; got %v", ids(got))
	}
}

func TestNextTabPrevTabCycleAndWrap(t *testing.T) {
	m := newTestManager()
	m.GetOrCreate("a")
	m.GetOrCreate("b")
	m.GetOrCreate("c")
	m.Focus("a")

	id, ok := m.NextTab()
	if !ok || id != "b" {
		t.Fatalf("expected next tab b, got %q", id)
	}
	id, ok = m.NextTab()
	if !ok || id != "c" {
		t.Fatalf("expected next tab c, got %q", id)
	}
	id, ok = m.NextTab()
	if !ok || id != "a" {
		t.Fatalf("expected wraparound to a, got %q", id)
	}
	id, ok = m.PrevTab()
	if !ok || id != "c" {
		t.Fatalf("expected prev tab to wrap to c, got %q", id)
	}
}

func TestNextTabEmptyManager(t *testing.T) {
	m := newTestManager()
	if _, ok := m.NextTab(); ok {
		t.Fatal("expected no next tab on an empty manager")
	}
}

func TestNextWithChoicesSkipsInactiveSessions(t *testing.T) {
	m := newTestManager()
	m.GetOrCreate("a")
	b, _ := m.GetOrCreate("b")
	m.GetOrCreate("c")
	m.Focus("a")

	b.mu.Lock()
	b.Active = true
	b.mu.Unlock()

	sess, ok := m.NextWithChoices()
	if !ok || sess.ID != "b" {
		t.Fatalf("expected to find active session b, got %+v (ok=%v)", sess, ok)
	}
}

func TestNextWithChoicesNoneActive(t *testing.T) {
	m := newTestManager()
	m.GetOrCreate("a")
	m.GetOrCreate("b")
	if _, ok := m.NextWithChoices(); ok {
		t.Fatal("expected no active session found")
	}
}

func TestMatchRegisteredFindsByNameAndCwd(t *testing.T) {
	m := newTestManager()
	m.SetLoaded([]RegisteredRecord{{Name: "agent-1", Cwd: "/repo"}})

	rec, ok := m.MatchRegistered("agent-1", "/repo")
	if !ok || rec.Name != "agent-1" {
		t.Fatalf("expected a match, got %+v (ok=%v)", rec, ok)
	}
	if _, ok := m.MatchRegistered("agent-1", "/other"); ok {
		t.Fatal("expected no match for a differing cwd")
	}
}

func TestCleanupStaleRemovesIdleUnfocusedSessions(t *testing.T) {
	m := newTestManager()
	stale, _ := m.GetOrCreate("stale")
	fresh, _ := m.GetOrCreate("fresh")
	m.Focus("fresh")

	stale.mu.Lock()
	stale.LastActivity = time.Now().Add(-time.Hour)
	stale.mu.Unlock()

	removed := m.CleanupStale(time.Minute)
	if len(removed) != 1 || removed[0] != "stale" {
		t.Fatalf("expected only 'stale' removed, got %v", removed)
	}
	if _, ok := m.Get("fresh"); !ok {
		t.Fatal("expected focused session 'fresh' to survive cleanup")
	}
	_ = fresh
}

func TestCleanupStaleNeverRemovesFocusedSession(t *testing.T) {
	m := newTestManager()
	sess, _ := m.GetOrCreate("only")
	m.Focus("only")
	sess.mu.Lock()
	sess.LastActivity = time.Now().Add(-time.Hour)
	sess.mu.Unlock()

	removed := m.CleanupStale(time.Minute)
	if len(removed) != 0 {
		t.Fatalf("expected the focused session to be spared, got removed=%v", removed)
	}
}

func TestTabBarTextIncludesNames(t *testing.T) {
	m := newTestManager()
	sess, _ := m.GetOrCreate("s1")
	sess.Name = "agent-1"

	text := m.TabBarText()
	if !strings.Contains(text, "agent-1") {
		t.Fatalf("expected tab bar text to include session name, got %q", text)
	}
}

func ids(sessions []*Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
