package uistate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewTolerantOfMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.json"), nil)
	if got := s.Get("anything", "fallback"); got != "fallback" {
		t.Fatalf("expected default returned for missing file, got %v", got)
	}
}

func TestNewTolerantOfCorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	s := New(path, nil)
	if got := s.Get("k", "def"); got != "def" {
		t.Fatalf("expected empty store on corrupt JSON, got %v", got)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "state.json")
	s := New(path, nil)
	s.Set("muted", true)

	if got := s.Get("muted", false); got != true {
		t.Fatalf("expected true after Set, got %v", got)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected Set to create the file (and parent dir), got %v", err)
	}
	if len(body) == 0 {
		t.Fatal("expected non-empty saved state file")
	}
}

func TestToggleFlipsAndDefaults(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"), nil)

	// Absent key: treated as def(true), then flipped.
	first := s.Toggle("visible", true)
	if first != false {
		t.Fatalf("expected Toggle to flip the assumed default(true) to false, got %v", first)
	}
	second := s.Toggle("visible", true)
	if second != !first {
		t.Fatalf("expected Toggle to flip the stored value, got %v then %v", first, second)
	}
}

func TestWatchReloadsOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, nil)
	stop := s.Watch()
	defer stop()

	if err := os.WriteFile(path, []byte(`{"k":"external"}`), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.Get("k", ""); got == "external" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for Watch to reload the externally-written state")
}
