package tts

import (
	"context"
	"os"
	"time"
)

// runRecoveryProbe issues one trivial synthesis to a scratch temp path.
// On success it resets the breaker and notifies recovery; on failure it
// restarts the cooldown window with a probe-specific error. Always clears
// probeInProgress and removes the scratch file.
func (e *Engine) runRecoveryProbe() {
	defer func() {
		e.breakerMu.Lock()
		e.probeInProgress = false
		e.breakerMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(e.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	path, err := e.generateToFile(ctx, "probe", e.cfg.Voice, e.cfg.Emotion, e.cfg.Model, e.cfg.Speed)
	if path != "" {
		defer os.Remove(path)
	}

	if err != nil {
		reason := "probe failed: " + err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			reason = "probe timed out"
		}
		e.breakerMu.Lock()
		e.lastFailureTime = time.Now()
		e.lastError = reason
		// consecutive_failures is unchanged: still at threshold.
		e.breakerMu.Unlock()
		return
	}

	e.recordSuccess()
	e.notifyTTSRecovered()
}

// notifyTTSSuppressed unconditionally invokes OnTTSError (if registered)
// and plays the error chime, throttled to at most once per
// suppressionChimeInterval.
func (e *Engine) notifyTTSSuppressed() {
	if e.OnTTSError != nil {
		e.OnTTSError("TTS unavailable")
	}

	e.breakerMu.Lock()
	shouldChime := time.Since(e.lastSuppressionChime) >= suppressionChimeInterval
	if shouldChime {
		e.lastSuppressionChime = time.Now()
	}
	e.breakerMu.Unlock()

	if shouldChime {
		e.PlayChime("error")
	}
}

// notifyTTSRecovered plays the success chime, asynchronously speaks
// "Speech restored", and resets the suppression-chime timer so the next
// suppression chimes immediately.
func (e *Engine) notifyTTSRecovered() {
	e.PlayChime("success")

	e.breakerMu.Lock()
	e.lastSuppressionChime = time.Time{}
	e.breakerMu.Unlock()

	e.SpeakAsync("Speech restored", SpeakOpts{})
}
