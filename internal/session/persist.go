package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const persistedLogCap = 100

// RegisteredRecord is the persisted shape of one registered session:
// session_id, name, cwd, hostname, tmux locators, voice, emotion,
// metadata, capped speech/history logs, and counters.
type RegisteredRecord struct {
	SessionID     string            `json:"session_id"`
	Name          string            `json:"name"`
	Cwd           string            `json:"cwd"`
	Hostname      string            `json:"hostname"`
	TmuxSession   string            `json:"tmux_session"`
	TmuxPane      string            `json:"tmux_pane"`
	Voice         string            `json:"voice"`
	Emotion       string            `json:"emotion"`
	Speed         float64           `json:"speed"`
	Model         string            `json:"model"`
	STTModel      string            `json:"stt_model"`
	Metadata      map[string]any    `json:"metadata"`
	SpeechLog     []PersistedSpeech `json:"speech_log"`
	History       []string          `json:"history"`
	ToolCallCount uint64            `json:"tool_call_count"`
	LastToolName  string            `json:"last_tool_name"`
	LastToolCall  float64           `json:"last_tool_call"`
}

// PersistedSpeech is one persisted speech-log entry.
type PersistedSpeech struct {
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
	Played    bool    `json:"played"`
}

// toRecord builds the persisted record for a registered session, capping
// speech_log/history at persistedLogCap entries (N=100).
func (s *Session) toRecord() RegisteredRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	speech := s.SpeechLog
	if len(speech) > persistedLogCap {
		speech = speech[len(speech)-persistedLogCap:]
	}
	persistedSpeech := make([]PersistedSpeech, 0, len(speech))
	for _, e := range speech {
		persistedSpeech = append(persistedSpeech, PersistedSpeech{
			Text:      e.Text,
			Timestamp: float64(e.Timestamp.UnixNano()) / 1e9,
			Played:    e.Played,
		})
	}

	history := s.History
	if len(history) > persistedLogCap {
		history = history[len(history)-persistedLogCap:]
	}

	return RegisteredRecord{
		SessionID:     s.ID,
		Name:          s.Name,
		Cwd:           s.Cwd,
		Hostname:      s.Hostname,
		TmuxSession:   s.TmuxSession,
		TmuxPane:      s.TmuxPane,
		Voice:         s.Voice,
		Emotion:       s.Emotion,
		Speed:         s.Speed,
		Model:         s.Model,
		STTModel:      s.STTModel,
		Metadata:      s.Metadata,
		SpeechLog:     persistedSpeech,
		History:       append([]string(nil), history...),
		ToolCallCount: s.ToolCallCount,
		LastToolName:  s.LastToolName,
		LastToolCall:  float64(s.LastToolCall.UnixNano()) / 1e9,
	}
}

// RestoreActivity rehydrates a newly-created session from a loaded record
// whose name+cwd match. Restoration is additive for logs and replacement
// for counters
func (s *Session) RestoreActivity(rec RegisteredRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range rec.SpeechLog {
		s.SpeechLog = append(s.SpeechLog, SpeechLogEntry{
			Text:      e.Text,
			Timestamp: time.Unix(0, int64(e.Timestamp*1e9)),
			Played:    true,
		})
	}
	if len(s.SpeechLog) > speechLogCap {
		s.SpeechLog = s.SpeechLog[len(s.SpeechLog)-speechLogCap:]
	}
	s.History = append(s.History, rec.History...)
	if len(s.History) > historyCap {
		s.History = s.History[len(s.History)-historyCap:]
	}
	s.ToolCallCount = rec.ToolCallCount
	s.LastToolName = rec.LastToolName
	if rec.LastToolCall > 0 {
		s.LastToolCall = time.Unix(0, int64(rec.LastToolCall*1e9))
	}
	s.Voice = rec.Voice
	s.Emotion = rec.Emotion
	s.Speed = rec.Speed
	s.Model = rec.Model
	s.STTModel = rec.STTModel
	s.TmuxSession = rec.TmuxSession
	s.TmuxPane = rec.TmuxPane
	s.ProcessLocator = ProcessLocatorFor(rec.TmuxSession, rec.TmuxPane)
}

// SaveRegistered writes the identifying metadata of every registered
// session to path as a JSON array. Persistence errors are never fatal:
// logged and swallowed
func (m *Manager) SaveRegistered(path string) {
	if path == "" {
		return
	}
	var records []RegisteredRecord
	for _, s := range m.AllSessions() {
		s.mu.Lock()
		registered := s.Registered
		s.mu.Unlock()
		if registered {
			records = append(records, s.toRecord())
		}
	}

	body, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		m.log.Warn("save_registered: marshal failed", "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		m.log.Warn("save_registered: mkdir failed", "path", path, "err", err)
		return
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		m.log.Warn("save_registered: write failed", "path", path, "err", err)
	}
}

// LoadRegistered reads path and returns the persisted records. A missing
// file, empty file, or corrupt JSON yields an empty slice, never an error
// surfaced to the caller (persistence failures are never fatal).
func (m *Manager) LoadRegistered(path string) []RegisteredRecord {
	body, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn("load_registered: read failed", "path", path, "err", err)
		}
		return nil
	}
	if len(body) == 0 {
		return nil
	}
	var records []RegisteredRecord
	if err := json.Unmarshal(body, &records); err != nil {
		m.log.Warn("load_registered: corrupt JSON, ignoring", "path", path, "err", err)
		return nil
	}
	return records
}

// WatchRegisteredFile watches path's containing directory with fsnotify
// so externally-edited registered-session files (e.g. an operator
// hand-pruning a stale entry) are picked up without a restart. onChange
// is invoked (with the freshly loaded records) on every write/create
// event for path. Returns a stop function; errors starting the watcher
// are logged and swallowed (supplemental ambient behavior, never fatal).
func (m *Manager) WatchRegisteredFile(path string, onChange func([]RegisteredRecord)) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.log.Warn("watch registered file: failed to start watcher", "err", err)
		return func() {}
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		m.log.Warn("watch registered file: failed to watch directory", "dir", dir, "err", err)
		watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if onChange != nil {
					onChange(m.LoadRegistered(path))
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Warn("registered file watcher error", "err", werr)
			case <-done:
				watcher.Close()
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
