package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harryaskham/io-mcp/internal/eventbus"
)

func TestSaveAndLoadRegisteredRoundTrip(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultQueueSize, nil)
	m := NewManager(nil, bus, nil)
	sess, _ := m.GetOrCreate("s1")
	sess.Registered = true
	sess.Name = "agent-1"
	sess.Cwd = "/repo"
	sess.RecordSpeech("hello there")

	path := filepath.Join(t.TempDir(), "sub", "registered.json")
	m.SaveRegistered(path)

	records := m.LoadRegistered(path)
	if len(records) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(records))
	}
	if records[0].Name != "agent-1" || records[0].Cwd != "/repo" {
		t.Fatalf("expected identifying fields persisted, got %+v", records[0])
	}
	if len(records[0].SpeechLog) != 1 || records[0].SpeechLog[0].Text != "hello there" {
		t.Fatalf("expected speech log persisted, got %+v", records[0].SpeechLog)
	}
}

func TestSaveRegisteredSkipsUnregisteredSessions(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultQueueSize, nil)
	m := NewManager(nil, bus, nil)
	m.GetOrCreate("unregistered")

	path := filepath.Join(t.TempDir(), "registered.json")
	m.SaveRegistered(path)

	records := m.LoadRegistered(path)
	if len(records) != 0 {
		t.Fatalf("expected no persisted records for an unregistered session, got %d", len(records))
	}
}

func TestSaveRegisteredEmptyPathIsNoop(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultQueueSize, nil)
	m := NewManager(nil, bus, nil)
	m.SaveRegistered("") // must not panic
}

func TestLoadRegisteredMissingFileReturnsNil(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultQueueSize, nil)
	m := NewManager(nil, bus, nil)
	records := m.LoadRegistered(filepath.Join(t.TempDir(), "nope.json"))
	if records != nil {
		t.Fatalf("expected nil for a missing file, got %v", records)
	}
}

func TestLoadRegisteredCorruptJSONReturnsNil(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultQueueSize, nil)
	m := NewManager(nil, bus, nil)
	path := filepath.Join(t.TempDir(), "corrupt.json")
	writeFile(t, path, "{not json")

	records := m.LoadRegistered(path)
	if records != nil {
		t.Fatalf("expected nil for corrupt JSON, got %v", records)
	}
}

func TestRestoreActivityRehydratesCountersAndLogs(t *testing.T) {
	sess := New("s1")
	rec := RegisteredRecord{
		ToolCallCount: 42,
		LastToolName:  "speak",
		LastToolCall:  float64(time.Now().Unix()),
		Voice:         "calm",
		Emotion:       "neutral",
		SpeechLog:     []PersistedSpeech{{Text: "restored", Played: true}},
	}
	sess.RestoreActivity(rec)

	if sess.ToolCallCount != 42 || sess.LastToolName != "speak" || sess.Voice != "calm" {
		t.Fatalf("expected counters/voice rehydrated, got %+v", sess)
	}
	if len(sess.SpeechLog) != 1 || sess.SpeechLog[0].Text != "restored" {
		t.Fatalf("expected speech log rehydrated, got %+v", sess.SpeechLog)
	}
}

func TestWatchRegisteredFileInvokesOnChange(t *testing.T) {
	bus := eventbus.New(eventbus.DefaultQueueSize, nil)
	m := NewManager(nil, bus, nil)
	path := filepath.Join(t.TempDir(), "registered.json")
	writeFile(t, path, "[]")

	received := make(chan []RegisteredRecord, 1)
	stop := m.WatchRegisteredFile(path, func(records []RegisteredRecord) {
		received <- records
	})
	defer stop()

	writeFile(t, path, `[{"name":"agent-x","cwd":"/x"}]`)

	select {
	case records := <-received:
		if len(records) != 1 || records[0].Name != "agent-x" {
			t.Fatalf("expected the externally-written record, got %+v", records)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the registered-file watcher to fire")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
