package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harryaskham/io-mcp/internal/eventbus"
)

// Manager is the registry of sessions: map + insertion-
// order list sharing exactly the same keys, plus a focus pointer. Guarded
// by a single manager-level mutex held only briefly to look up or insert.
// Locks are strictly leaf-ordered: Session before Manager, never the
// reverse.
type Manager struct {
	mu      sync.Mutex
	byID    map[string]*Session
	order   []string
	focused string

	collab Collaborator
	bus    *eventbus.Bus
	log    *slog.Logger

	loaded []RegisteredRecord
}

// NewManager builds an empty Manager.
func NewManager(collab Collaborator, bus *eventbus.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		byID:   make(map[string]*Session),
		collab: collab,
		bus:    bus,
		log:    log,
	}
}

// GetOrCreate returns the existing session for id, or creates and starts
// its drain loop if none exists. created is true iff a new session was
// made.
func (m *Manager) GetOrCreate(id string) (sess *Session, created bool) {
	m.mu.Lock()
	if existing, ok := m.byID[id]; ok {
		m.mu.Unlock()
		return existing, false
	}
	sess = New(id)
	m.byID[id] = sess
	m.order = append(m.order, id)
	m.mu.Unlock()

	sess.StartDrainLoop(m.collab, m.bus, m.log)
	if m.bus != nil {
		m.bus.EmitSessionCreated(id, nil)
	}
	return sess, true
}

// Get returns the session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	return s, ok
}

// Remove stops the session's drain loop and removes it from the registry.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	sess, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.byID, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.focused == id {
		m.focused = ""
	}
	m.mu.Unlock()

	// Resolve every queued latch before stopping the drain loop: the loop
	// may be mid-presentation, and StopDrainLoop waits for it to exit.
	sess.CancelAllPending()
	sess.StopDrainLoop()
	if m.bus != nil {
		m.bus.EmitSessionRemoved(id, nil)
	}
	return true
}

// Focus sets the focused session id. No-op if id doesn't exist.
func (m *Manager) Focus(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return false
	}
	m.focused = id
	return true
}

// IsFocused reports whether id is the currently focused session.
func (m *Manager) IsFocused(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return id != "" && m.focused == id
}

// Focused returns the currently focused session, if any.
func (m *Manager) Focused() (*Session, bool) {
	m.mu.Lock()
	id := m.focused
	m.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return m.Get(id)
}

// AllSessions returns sessions in insertion (tab) order.
func (m *Manager) AllSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

// SetLoaded stashes the records loaded at startup (via LoadRegistered) so
// MatchRegistered can rehydrate newly-registered sessions whose name+cwd
// match a prior run
func (m *Manager) SetLoaded(records []RegisteredRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = records
}

// MatchRegistered returns the loaded record whose name+cwd match, if any.
func (m *Manager) MatchRegistered(name, cwd string) (RegisteredRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.loaded {
		if r.Name == name && r.Cwd == cwd {
			return r, true
		}
	}
	return RegisteredRecord{}, false
}

// Count returns the number of sessions in the registry, registered or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// NextTab / PrevTab cycle the focus pointer through insertion order.
func (m *Manager) NextTab() (string, bool) { return m.shiftTab(1) }
func (m *Manager) PrevTab() (string, bool) { return m.shiftTab(-1) }

func (m *Manager) shiftTab(delta int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.order)
	if n == 0 {
		return "", false
	}
	idx := 0
	for i, id := range m.order {
		if id == m.focused {
			idx = i
			break
		}
	}
	idx = ((idx+delta)%n + n) % n
	m.focused = m.order[idx]
	return m.focused, true
}

// NextWithChoices returns the next session (after the currently focused
// one, wrapping) that has an active choices presentation, if any.
func (m *Manager) NextWithChoices() (*Session, bool) {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	focused := m.focused
	m.mu.Unlock()

	if len(order) == 0 {
		return nil, false
	}
	startIdx := 0
	for i, id := range order {
		if id == focused {
			startIdx = i
			break
		}
	}
	for i := 1; i <= len(order); i++ {
		id := order[(startIdx+i)%len(order)]
		s, ok := m.Get(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		active := s.Active
		s.mu.Unlock()
		if active {
			return s, true
		}
	}
	return nil, false
}

// TabBarText renders the per-session status-glyph segments
func (m *Manager) TabBarText() string {
	var out string
	for _, s := range m.AllSessions() {
		snap := s.Snapshot()
		glyph := snap.StatusGlyph()
		name := snap.Name
		if name == "" {
			name = snap.ID
		}
		if glyph != "" {
			out += glyph + " " + name + "  "
		} else {
			out += name + "  "
		}
	}
	return out
}

// Shutdown force-cancels every session's pending inbox items (waking
// every latch) and stops all drain loops. The registry itself is left
// intact so a final SaveRegistered can still see the sessions.
func (m *Manager) Shutdown() {
	for _, s := range m.AllSessions() {
		s.CancelAllPending()
		s.StopDrainLoop()
	}
}

// CleanupStale removes sessions whose LastActivity is older than timeout
// and which are neither focused nor have active choices. The focused
// session is never removed here. Returns the removed session ids.
func (m *Manager) CleanupStale(timeout time.Duration) []string {
	now := time.Now()
	var removed []string

	for _, s := range m.AllSessions() {
		s.mu.Lock()
		idle := now.Sub(s.LastActivity) > timeout
		active := s.Active
		id := s.ID
		s.mu.Unlock()

		m.mu.Lock()
		isFocused := m.focused == id
		m.mu.Unlock()

		if idle && !active && !isFocused {
			m.Remove(id)
			removed = append(removed, id)
		}
	}
	return removed
}
