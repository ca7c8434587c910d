// Package session implements the per-agent session and inbox state
// machine, and its drain loop.
package session

import (
	"sync"
	"time"

	"github.com/harryaskham/io-mcp/internal/inbox"
	"github.com/harryaskham/io-mcp/pkg/models"
)

const (
	doneLogCap   = 200
	speechLogCap = 200
	historyCap   = 200
	undoStackCap = 5
)

// HealthStatus is the session's liveness classification, set by the
// health monitor.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthWarning      HealthStatus = "warning"
	HealthUnresponsive HealthStatus = "unresponsive"
)

// SpeechLogEntry is one spoken phrase, retained for chat-view
// reconstruction and post-mortem.
type SpeechLogEntry struct {
	Text      string
	Timestamp time.Time
	Played    bool
}

// UndoEntry is one undo-stack frame.
type UndoEntry struct {
	Preamble  string
	Choices   []models.Choice
	Selection string
}

// Session holds all per-agent state: inbox queue, logs, undo stack,
// health, and UI ephemera. Every field below is guarded by mu except the
// completion latches owned by individual inbox.Item values, which
// deliberately sit outside it so a waiting caller is never blocked on
// session-wide lock contention.
type Session struct {
	mu sync.Mutex

	ID       string
	Name     string
	Cwd      string
	Hostname string
	Metadata map[string]any

	TmuxSession string
	TmuxPane    string
	// ProcessLocator is the combined tmux session:pane locator handed to
	// the health monitor's ProcessLocator.IsAlive; empty when the caller
	// registered without tmux identifiers.
	ProcessLocator string

	Registered bool
	Voice      string
	Emotion    string
	Speed      float64
	Model      string
	STTModel   string

	LastActivity  time.Time
	LastToolCall  time.Time
	ToolCallCount uint64
	LastToolName  string

	inboxQueue      []*inbox.Item
	DoneLog         []*inbox.Item
	SpeechLog       []SpeechLogEntry
	History         []string
	PendingMessages []string
	FlushedMessages []string
	UndoStack       []UndoEntry

	// Active-choice mirror: presentation state of the current head, for
	// the UI collaborator.
	Active       bool
	Preamble     string
	Choices      []models.Choice
	LastPreamble string
	LastChoices  []models.Choice
	activeItem   *inbox.Item

	HealthStatus      HealthStatus
	HealthAlertSpoken bool

	// UI ephemera, opaque to the core.
	InputMode        string
	ScrollIndex      int
	VoiceOverride    string
	EmotionOverride  string
	WaitingAnnounced bool

	// drainKick is a buffered-1 coalescing signal: every enqueue and every
	// completion sends (non-blocking); the drain loop wakes, drains every
	// consecutive orphan/ready item, then waits again.
	drainKick chan struct{}
	drainStop chan struct{}
	drainDone chan struct{}
}

// New constructs a Session with an empty inbox and healthy status.
func New(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Metadata:     map[string]any{},
		LastActivity: now,
		LastToolCall: now,
		HealthStatus: HealthHealthy,
		drainKick:    make(chan struct{}, 1),
		drainStop:    make(chan struct{}),
		drainDone:    make(chan struct{}),
	}
}

// ProcessLocatorFor combines tmux session/pane identifiers into the
// single string the health monitor's ProcessLocator.IsAlive expects.
// Empty when neither identifier is set.
func ProcessLocatorFor(tmuxSession, tmuxPane string) string {
	if tmuxSession == "" && tmuxPane == "" {
		return ""
	}
	return tmuxSession + ":" + tmuxPane
}

// kick sends a non-blocking wake to the drain loop; redundant wakes while
// one is already pending are coalesced.
func (s *Session) kick() {
	select {
	case s.drainKick <- struct{}{}:
	default:
	}
}

// Enqueue appends item to the inbox tail, except that urgent speech
// (priority>0 or blocking) is inserted before the first non-urgent tail
// item, so it overtakes queued non-blocking speech but never an item
// already in front of it (processing is unaffected: the head in flight is
// never reordered). Publishes no event itself; callers publish via the
// event bus after enqueue succeeds.
func (s *Session) Enqueue(item *inbox.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urgent := item.Kind == inbox.KindSpeech && (item.Priority > 0 || item.Blocking)
	if !urgent || len(s.inboxQueue) == 0 {
		s.inboxQueue = append(s.inboxQueue, item)
		s.kick()
		return
	}

	// Insert before the first non-urgent tail item. A `choices`/
	// `multi_select`/`confirm` item already queued is never skipped: only
	// non-urgent speech items are overtaken.
	insertAt := len(s.inboxQueue)
	for i, q := range s.inboxQueue {
		if i == 0 {
			continue // never displace the current head mid-presentation
		}
		qUrgent := q.Kind == inbox.KindSpeech && (q.Priority > 0 || q.Blocking)
		if q.Kind == inbox.KindSpeech && !qUrgent {
			insertAt = i
			break
		}
	}
	s.inboxQueue = append(s.inboxQueue, nil)
	copy(s.inboxQueue[insertAt+1:], s.inboxQueue[insertAt:])
	s.inboxQueue[insertAt] = item
	s.kick()
}

// PeekInbox returns the head after performing orphan cleanup: it pops
// every consecutive done item, then force-resolves (and also pops) every
// consecutive orphaned item at the front, in a single call, before
// returning the first item that is neither.
func (s *Session) PeekInbox() *inbox.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peekInboxLocked()
}

func (s *Session) peekInboxLocked() *inbox.Item {
	for len(s.inboxQueue) > 0 {
		head := s.inboxQueue[0]

		if head.Done {
			s.popHeadLocked()
			continue
		}

		if head.Orphaned() {
			head.Resolve(inbox.Result{Selected: models.SentinelRestart})
			s.popHeadLocked()
			s.appendDoneLocked(head)
			continue
		}

		return head
	}
	return nil
}

// popHeadLocked removes the current head. Caller must hold mu and must
// have already verified the queue is non-empty.
func (s *Session) popHeadLocked() {
	s.inboxQueue = s.inboxQueue[1:]
}

func (s *Session) appendDoneLocked(item *inbox.Item) {
	s.DoneLog = append(s.DoneLog, item)
	if len(s.DoneLog) > doneLogCap {
		s.DoneLog = s.DoneLog[len(s.DoneLog)-doneLogCap:]
	}
}

// QueueLen returns the current inbox length (including any head not yet
// peeked/cleaned).
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inboxQueue)
}

// recordHistoryLocked appends one resolved-selection line to the
// history, capped at historyCap. Caller must hold mu.
func (s *Session) recordHistoryLocked(line string) {
	s.History = append(s.History, line)
	if len(s.History) > historyCap {
		s.History = s.History[len(s.History)-historyCap:]
	}
}

// RecordSpeech appends to the speech log, capped at speechLogCap.
func (s *Session) RecordSpeech(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SpeechLog = append(s.SpeechLog, SpeechLogEntry{Text: text, Timestamp: time.Now(), Played: true})
	if len(s.SpeechLog) > speechLogCap {
		s.SpeechLog = s.SpeechLog[len(s.SpeechLog)-speechLogCap:]
	}
}

// PushUndo records a resolved choices selection and mirrors the top into
// LastPreamble/LastChoices (default cap 5; oldest dropped on overflow).
func (s *Session) PushUndo(entry UndoEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UndoStack = append(s.UndoStack, entry)
	if len(s.UndoStack) > undoStackCap {
		s.UndoStack = s.UndoStack[len(s.UndoStack)-undoStackCap:]
	}
	s.mirrorUndoTopLocked()
}

// PopUndo restores the top's predecessor into the legacy mirror fields and
// returns the popped entry and the new stack depth. Popping the last entry
// clears the mirror fields.
func (s *Session) PopUndo() (UndoEntry, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.UndoStack) == 0 {
		return UndoEntry{}, 0, false
	}
	top := s.UndoStack[len(s.UndoStack)-1]
	s.UndoStack = s.UndoStack[:len(s.UndoStack)-1]
	s.mirrorUndoTopLocked()
	return top, len(s.UndoStack), true
}

func (s *Session) mirrorUndoTopLocked() {
	if len(s.UndoStack) == 0 {
		s.LastPreamble = ""
		s.LastChoices = nil
		return
	}
	top := s.UndoStack[len(s.UndoStack)-1]
	s.LastPreamble = top.Preamble
	s.LastChoices = top.Choices
}

// EnqueuePendingMessage appends an operator-typed message for delivery on
// the agent's next tool call.
func (s *Session) EnqueuePendingMessage(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingMessages = append(s.PendingMessages, text)
	return len(s.PendingMessages)
}

// DrainPendingMessages moves all pending messages to flushed and returns
// them, for merging into a tool response body.
func (s *Session) DrainPendingMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PendingMessages) == 0 {
		return nil
	}
	drained := s.PendingMessages
	s.FlushedMessages = append(s.FlushedMessages, drained...)
	s.PendingMessages = nil
	return drained
}

// TTSSettings are the per-session speech knobs that participate in the
// TTS cache key.
type TTSSettings struct {
	Voice   string
	Emotion string
	Model   string
	Speed   float64
}

// SpeechSettings returns the session's display name and TTS knobs as one
// consistent snapshot.
func (s *Session) SpeechSettings() (string, TTSSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return name, TTSSettings{Voice: s.Voice, Emotion: s.Emotion, Model: s.Model, Speed: s.Speed}
}

// Registration carries the fields written by the registration tool.
type Registration struct {
	Name        string
	Cwd         string
	Hostname    string
	TmuxSession string
	TmuxPane    string
	Voice       string
	Emotion     string
	Metadata    map[string]any
}

// ApplyRegistration marks the session registered and writes the
// descriptive attributes under the session mutex.
func (s *Session) ApplyRegistration(r Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Registered = true
	s.Name = r.Name
	s.Cwd = r.Cwd
	s.Hostname = r.Hostname
	s.TmuxSession = r.TmuxSession
	s.TmuxPane = r.TmuxPane
	s.ProcessLocator = ProcessLocatorFor(r.TmuxSession, r.TmuxPane)
	s.Voice = r.Voice
	s.Emotion = r.Emotion
	if r.Metadata != nil {
		s.Metadata = r.Metadata
	}
}

// IsRegistered reports whether the registration tool has been called.
func (s *Session) IsRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Registered
}

// UpdateSettings runs fn under the session mutex, for the synchronous
// setting-mutator tools (voice, emotion, speed, model, stt model).
func (s *Session) UpdateSettings(fn func(s *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// TouchActivity marks the session active on any incoming tool call,
// resetting health to healthy
func (s *Session) TouchActivity(toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.LastActivity = now
	s.LastToolCall = now
	s.LastToolName = toolName
	s.ToolCallCount++
	s.HealthStatus = HealthHealthy
	s.HealthAlertSpoken = false
}

// SetHealth is called by the health monitor to transition status. On the
// first transition into warning or unresponsive it also marks
// HealthAlertSpoken, matching the "emit a notification and set
// health_alert_spoken" contract; transitions back to healthy leave it
// alone (TouchActivity is what clears it, on the next tool call).
func (s *Session) SetHealth(status HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HealthStatus = status
	if status == HealthWarning || status == HealthUnresponsive {
		s.HealthAlertSpoken = true
	}
}

// CancelAllPending force-resolves every queued item with _cancelled and
// signals every latch, clearing the active-choice mirror. Used by health
// auto-cleanup and server shutdown.
func (s *Session) CancelAllPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.inboxQueue {
		if !item.Done {
			item.Resolve(inbox.Result{Selected: models.SentinelCancelled})
		}
		s.appendDoneLocked(item)
	}
	s.inboxQueue = nil
	s.Active = false
	s.Preamble = ""
	s.Choices = nil
	s.activeItem = nil
}

// Snapshot is a read-only view used by the HTTP API, tab bar, and health
// monitor.
type Snapshot struct {
	ID             string
	Name           string
	Cwd            string
	Hostname       string
	Registered     bool
	Active         bool
	Health         HealthStatus
	LastToolCall   time.Time
	ProcessLocator string
}

// Snapshot returns a point-in-time copy of the session's listing fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:             s.ID,
		Name:           s.Name,
		Cwd:            s.Cwd,
		Hostname:       s.Hostname,
		Registered:     s.Registered,
		Active:         s.Active,
		Health:         s.HealthStatus,
		LastToolCall:   s.LastToolCall,
		ProcessLocator: s.ProcessLocator,
	}
}

// StatusGlyph returns the tab-bar glyph: `●` when active
// (masking health — the agent isn't stuck, it's waiting on the operator),
// else `⚠`/`✗` for warning/unresponsive, else empty.
func (s Snapshot) StatusGlyph() string {
	if s.Active {
		return "●"
	}
	switch s.Health {
	case HealthWarning:
		return "⚠"
	case HealthUnresponsive:
		return "✗"
	default:
		return ""
	}
}
