// Package uistate implements the persistent UI state store: a tiny
// key/value JSON store for the operator's settings.
package uistate

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Store is backed by a single JSON object at Path. Load tolerates a
// missing file, an empty file, and corrupt JSON (all yield an empty
// object). Save creates parent directories; write errors are swallowed
// silently (best-effort)
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]any
	log  *slog.Logger
}

// New builds a Store and performs the initial tolerant load.
func New(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{path: path, log: log}
	s.data = s.load()
	return s
}

func (s *Store) load() map[string]any {
	body, err := os.ReadFile(s.path)
	if err != nil || len(body) == 0 {
		return map[string]any{}
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		s.log.Warn("uistate: corrupt JSON, starting empty", "path", s.path, "err", err)
		return map[string]any{}
	}
	if data == nil {
		data = map[string]any{}
	}
	return data
}

// Get returns the value for key, or def if absent.
func (s *Store) Get(key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v
	}
	return def
}

// Set performs a read-modify-write, serialised on s.mu, then saves.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	snapshot := cloneMap(s.data)
	s.mu.Unlock()

	s.save(snapshot)
}

// Toggle flips a boolean key (defaulting to def if absent) and returns
// the new value.
func (s *Store) Toggle(key string, def bool) bool {
	s.mu.Lock()
	current, ok := s.data[key].(bool)
	if !ok {
		current = def
	}
	newVal := !current
	s.data[key] = newVal
	snapshot := cloneMap(s.data)
	s.mu.Unlock()

	s.save(snapshot)
	return newVal
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) save(data map[string]any) {
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(s.path, body, 0o644)
}

// Watch watches Path's directory for external edits and reloads on
// change so concurrent external writers are picked up promptly.
// Returns a stop function.
func (s *Store) Watch() func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("uistate: failed to start watcher", "err", err)
		return func() {}
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		s.log.Warn("uistate: failed to watch directory", "dir", dir, "err", err)
		watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.mu.Lock()
				s.data = s.load()
				s.mu.Unlock()
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("uistate watcher error", "err", werr)
			case <-done:
				watcher.Close()
				return
			}
		}
	}()

	return func() { close(done) }
}
