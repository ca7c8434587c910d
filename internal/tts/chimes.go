package tts

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// tone is one PlayTone call spaced by a short sleep before the next.
type tone struct {
	freqHz       int
	durMs        int
	sleepAfterMs int
}

// chimes are short pre-defined tone sequences: `select` is a single
// high ping, `undo` two descending tones, `error`/`success` are
// distinct two-tone sequences so the operator can distinguish chime
// meaning by ear alone.
var chimeSequences = map[string][]tone{
	"select": {
		{freqHz: 1200, durMs: 60},
	},
	"undo": {
		{freqHz: 900, durMs: 80, sleepAfterMs: 40},
		{freqHz: 600, durMs: 80},
	},
	"error": {
		{freqHz: 400, durMs: 120, sleepAfterMs: 60},
		{freqHz: 300, durMs: 160},
	},
	"success": {
		{freqHz: 700, durMs: 70, sleepAfterMs: 40},
		{freqHz: 1000, durMs: 100},
	},
}

// PlayChime plays a short pre-defined tone sequence. Unknown chime names
// are no-ops.
func (e *Engine) PlayChime(style string) {
	seq, ok := chimeSequences[style]
	if !ok {
		return
	}
	for _, t := range seq {
		e.PlayTone(t.freqHz, t.durMs)
		if t.sleepAfterMs > 0 {
			time.Sleep(time.Duration(t.sleepAfterMs) * time.Millisecond)
		}
	}
}

// PlayTone plays a single tone of freqHz for durMs milliseconds via the
// opaque local playback command, tagged "playback" so Stop() can cancel
// it mid-tone.
func (e *Engine) PlayTone(freqHz, durMs int) {
	if e.cfg.BinaryPath == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durMs+500)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(ctx, "speaker-test",
		"-t", "sine", "-f", fmt.Sprintf("%d", freqHz), "-l", "1")
	handle, err := e.sup.Start(cmd, "playback")
	if err != nil {
		return
	}
	_ = handle.Wait()
}
