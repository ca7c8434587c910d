// Package tts implements the TTS engine: cache-keyed
// synthesis, circuit breaker, recovery probe, local fallback, chimes and
// tones, and a bounded pregeneration pool. Generation is treated as an
// opaque subprocess that produces a WAV file; see Config.BinaryPath.
package tts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/harryaskham/io-mcp/internal/process"
)

// Failure thresholds for the circuit breaker. A failed recovery probe
// restamps lastFailureTime, so the probe cooldown after a probe failure
// equals the base cooldown.
const (
	failThreshold            = 3
	cooldown                 = 60 * time.Second
	suppressionChimeInterval = 10 * time.Second
)

// Config holds the synthesis binary path, cache directory, and the
// voice/emotion/model/speed knobs that participate in the cache key.
type Config struct {
	BinaryPath     string
	CacheDir       string
	TimeoutSeconds int
	Voice          string
	Emotion        string
	Model          string
	Speed          float64
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.Voice == "" {
		c.Voice = "default"
	}
	if c.Model == "" {
		c.Model = "default"
	}
	if c.Speed <= 0 {
		c.Speed = 1.0
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(os.TempDir(), "io-mcp-tts-cache")
	}
}

// Result carries the outcome of one synthesis call.
type Result struct {
	Success   bool
	AudioPath string
	LatencyMs int64
	Error     string
	Cached    bool
}

// ApiHealth is the circuit breaker status surface
type ApiHealth struct {
	Available                bool
	ConsecutiveFailures      int
	LastError                string
	CooldownRemainingSeconds *float64
	ProbeInProgress          bool
}

// Engine is the TTS engine. Construct with New.
type Engine struct {
	cfg *Config
	sup *process.Supervisor
	log *slog.Logger

	// OnTTSError is invoked (if set) whenever suppression fires. Matches
	// registered on_tts_error callback.
	OnTTSError func(message string)

	cacheMu   sync.Mutex
	cache     map[cacheKey]string // key -> audio path
	pregenGen int

	breakerMu            sync.Mutex
	consecutiveFailures  int
	lastFailureTime      time.Time
	lastError            string
	probeInProgress      bool
	lastSuppressionChime time.Time

	pregenSem *semaphore.Weighted
}

type cacheKey struct {
	text, voice, emotion, model string
	speed                       float64
}

// New builds an Engine with the given config and process supervisor,
// used to tag and track the synthesis/playback subprocesses.
func New(cfg *Config, sup *process.Supervisor, log *slog.Logger) *Engine {
	cfg.ApplyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if sup == nil {
		sup = process.New(log)
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		log.Warn("create tts cache dir", "dir", cfg.CacheDir, "err", err)
	}
	return &Engine{
		cfg:       cfg,
		sup:       sup,
		log:       log,
		cache:     make(map[cacheKey]string),
		pregenSem: semaphore.NewWeighted(4),
	}
}

// normalize collapses the text into its cache-key form so that phrases
// differing only in surrounding/internal runs of whitespace share one
// cache entry.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func (e *Engine) keyFor(text, voice, emotion, model string, speed float64) cacheKey {
	if voice == "" {
		voice = e.cfg.Voice
	}
	if emotion == "" {
		emotion = e.cfg.Emotion
	}
	if model == "" {
		model = e.cfg.Model
	}
	if speed == 0 {
		speed = e.cfg.Speed
	}
	return cacheKey{text: normalize(text), voice: voice, emotion: emotion, model: model, speed: speed}
}

// lookupCache returns the cached audio path, if any.
func (e *Engine) lookupCache(k cacheKey) (string, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	p, ok := e.cache[k]
	return p, ok
}

func (e *Engine) storeCache(k cacheKey, path string) {
	e.cacheMu.Lock()
	e.cache[k] = path
	e.cacheMu.Unlock()
}

// ClearCache empties the in-memory cache map; underlying files are left
// on disk (cache dir is opaque content-addressed storage).
func (e *Engine) ClearCache() {
	e.cacheMu.Lock()
	e.cache = make(map[cacheKey]string)
	e.cacheMu.Unlock()
}

// ResetFailureCounters clears the circuit breaker state, used by
// successful recovery and by explicit operator action.
func (e *Engine) ResetFailureCounters() {
	e.breakerMu.Lock()
	e.consecutiveFailures = 0
	e.lastError = ""
	e.breakerMu.Unlock()
}

// apiGenAvailable returns true when the breaker is closed
// (consecutiveFailures < failThreshold). It may spawn a
// recovery probe as a side effect once cooldown has elapsed.
func (e *Engine) apiGenAvailable() bool {
	e.breakerMu.Lock()
	failures := e.consecutiveFailures
	lastFail := e.lastFailureTime
	probing := e.probeInProgress
	e.breakerMu.Unlock()

	if failures < failThreshold {
		return true
	}

	if probing {
		return false
	}

	if time.Since(lastFail) < cooldown {
		return false
	}

	// Cooldown has elapsed: spawn exactly one recovery probe. The flag is
	// set before the goroutine spawn, inside this critical section, to
	// prevent a thundering herd of probes from concurrent callers.
	e.breakerMu.Lock()
	if e.probeInProgress {
		e.breakerMu.Unlock()
		return false
	}
	e.probeInProgress = true
	e.breakerMu.Unlock()

	go e.runRecoveryProbe()
	return false
}

// recordFailure increments the failure counter and stamps the error.
func (e *Engine) recordFailure(reason string) {
	e.breakerMu.Lock()
	e.consecutiveFailures++
	e.lastFailureTime = time.Now()
	e.lastError = reason
	e.breakerMu.Unlock()
	e.log.Warn("tts generation failed", "reason", reason, "consecutive_failures", e.consecutiveFailures)
}

func (e *Engine) recordSuccess() {
	e.breakerMu.Lock()
	e.consecutiveFailures = 0
	e.lastError = ""
	e.breakerMu.Unlock()
}

// Health returns the current circuit breaker status.
func (e *Engine) Health() ApiHealth {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()

	h := ApiHealth{
		Available:           e.consecutiveFailures < failThreshold,
		ConsecutiveFailures: e.consecutiveFailures,
		LastError:           e.lastError,
		ProbeInProgress:     e.probeInProgress,
	}
	if !h.Available {
		remaining := cooldown - time.Since(e.lastFailureTime)
		if remaining < 0 {
			remaining = 0
		}
		secs := remaining.Seconds()
		h.CooldownRemainingSeconds = &secs
	}
	return h
}

// generateToFile invokes the opaque synthesis binary, streaming its
// stdout into a temp WAV, enforcing a per-call timeout, and validating
// the result. On success the temp file is moved into the cache directory
// under a content-addressed name.
func (e *Engine) generateToFile(ctx context.Context, text string, voice, emotion, model string, speed float64) (string, error) {
	if e.cfg.BinaryPath == "" {
		return "", fmt.Errorf("tts binary not found")
	}
	if _, err := exec.LookPath(e.cfg.BinaryPath); err != nil {
		return "", fmt.Errorf("tts binary not found")
	}

	timeout := time.Duration(e.cfg.TimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmp, err := os.CreateTemp(e.cfg.CacheDir, "tts-*.wav.tmp")
	if err != nil {
		return "", fmt.Errorf("exception: %v", err)
	}
	tmpPath := tmp.Name()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(callCtx, e.cfg.BinaryPath,
		"--text", text, "--voice", voice, "--emotion", emotion,
		"--model", model, "--speed", fmt.Sprintf("%.2f", speed))
	cmd.Stdout = tmp
	cmd.Stderr = &stderr

	handle, err := e.sup.Start(cmd, "tts")
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("exception: %v", err)
	}

	err = handle.Wait()
	tmp.Close()
	if callCtx.Err() == context.DeadlineExceeded {
		os.Remove(tmpPath)
		return "", fmt.Errorf("timeout")
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("exit code %d: %s", cmd.ProcessState.ExitCode(), stderrExcerpt(&stderr))
	}

	info, statErr := os.Stat(tmpPath)
	if statErr != nil || info.Size() < 44 { // minimum WAV header size
		os.Remove(tmpPath)
		size := int64(0)
		if info != nil {
			size = info.Size()
		}
		return "", fmt.Errorf("invalid WAV (%d bytes)", size)
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%.2f", text, voice, emotion, model, speed)))
	finalPath := filepath.Join(e.cfg.CacheDir, hex.EncodeToString(sum[:16])+".wav")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("exception: %v", err)
	}
	return finalPath, nil
}

// stderrExcerpt trims the captured stderr to a single short line for the
// failure reason string.
func stderrExcerpt(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
