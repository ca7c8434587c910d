package tts

import (
	"context"
	"os/exec"
)

// SpeakOpts carries the per-call voice/emotion/model/speed overrides that
// participate in the cache key
type SpeakOpts struct {
	Voice   string
	Emotion string
	Model   string
	Speed   float64
}

// Speak synthesizes (cache-first) and blocks until playback completes.
func (e *Engine) Speak(ctx context.Context, text string, opts SpeakOpts) error {
	path, err := e.resolveAudio(ctx, text, opts)
	if err != nil {
		return err
	}
	if path == "" {
		return nil // suppressed or generation failed
	}
	return e.playFile(ctx, path)
}

// SpeakAsync synthesizes and plays without blocking the caller.
func (e *Engine) SpeakAsync(text string, opts SpeakOpts) {
	go func() {
		_ = e.Speak(context.Background(), text, opts)
	}()
}

// SpeakWithLocalFallback plays directly if cached; else, if the circuit
// is closed, calls SpeakAsync; else notifies suppression
func (e *Engine) SpeakWithLocalFallback(text string, opts SpeakOpts) {
	key := e.keyFor(text, opts.Voice, opts.Emotion, opts.Model, opts.Speed)
	if path, ok := e.lookupCache(key); ok {
		go func() { _ = e.playFile(context.Background(), path) }()
		return
	}
	if e.apiGenAvailable() {
		e.SpeakAsync(text, opts)
		return
	}
	e.notifyTTSSuppressed()
}

// resolveAudio returns the cached or freshly generated audio path for
// text/opts. An empty path with nil error means no audio is available:
// either the breaker is open (suppression has already been notified) or
// generation failed (the failure is recorded against the breaker).
func (e *Engine) resolveAudio(ctx context.Context, text string, opts SpeakOpts) (string, error) {
	key := e.keyFor(text, opts.Voice, opts.Emotion, opts.Model, opts.Speed)
	if path, ok := e.lookupCache(key); ok {
		return path, nil
	}

	if !e.apiGenAvailable() {
		e.notifyTTSSuppressed()
		return "", nil
	}

	path, err := e.generateToFile(ctx, text, key.voice, key.emotion, key.model, key.speed)
	if err != nil {
		e.recordFailure(err.Error())
		return "", nil
	}

	e.recordSuccess()
	e.storeCache(key, path)
	return path, nil
}

// playFile invokes the opaque local playback command, tagged "playback"
// in the process supervisor so Stop() can cancel it.
func (e *Engine) playFile(ctx context.Context, path string) error {
	if e.cfg.BinaryPath == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "aplay", path)
	handle, err := e.sup.Start(cmd, "playback")
	if err != nil {
		return err
	}
	return handle.Wait()
}

// Stop cancels all in-flight playback and synthesis subprocesses; safe to
// call from any goroutine. Partially-played audio is discarded.
func (e *Engine) Stop() {
	e.sup.CancelTagged("playback")
	e.sup.CancelTagged("tts")
}

// Pregenerate synchronously generates every uncached text. Texts already
// in the cache are skipped, and a later Pregenerate/PregeneratePriority
// call stops this pass at its next text; concurrent calls that reach the
// same uncached key at the same time each generate it.
func (e *Engine) Pregenerate(ctx context.Context, texts []string, opts SpeakOpts) {
	myGen := e.bumpPregenGen()

	for _, text := range texts {
		if e.pregenStale(myGen) {
			return
		}

		key := e.keyFor(text, opts.Voice, opts.Emotion, opts.Model, opts.Speed)
		if _, ok := e.lookupCache(key); ok {
			continue
		}
		if err := e.pregenSem.Acquire(ctx, 1); err != nil {
			return
		}
		path, err := e.generateToFile(ctx, text, key.voice, key.emotion, key.model, key.speed)
		e.pregenSem.Release(1)
		if err != nil {
			e.recordFailure(err.Error())
			continue
		}
		e.recordSuccess()
		e.storeCache(key, path)
	}
}

// PregeneratePriority synchronously generates the first `count` uncached
// texts (cancellable via the generation counter: if a later
// Pregenerate/PregeneratePriority call bumps it mid-call, remaining
// synchronous work is skipped), then queues the remainder into the
// background pregen pipeline. Cached texts are skipped and don't count
// against `count`.
func (e *Engine) PregeneratePriority(ctx context.Context, texts []string, count int, opts SpeakOpts) {
	myGen := e.bumpPregenGen()

	done := 0
	var rest []string
	for i, text := range texts {
		key := e.keyFor(text, opts.Voice, opts.Emotion, opts.Model, opts.Speed)
		if _, ok := e.lookupCache(key); ok {
			continue
		}

		if done >= count {
			rest = append(rest, texts[i:]...)
			break
		}

		if e.pregenStale(myGen) {
			return
		}

		path, err := e.generateToFile(ctx, text, key.voice, key.emotion, key.model, key.speed)
		if err != nil {
			e.recordFailure(err.Error())
		} else {
			e.recordSuccess()
			e.storeCache(key, path)
		}
		done++
	}

	if len(rest) > 0 {
		go e.Pregenerate(context.Background(), rest, opts)
	}
}

// bumpPregenGen increments the generation counter, obsoleting any
// in-flight pregeneration pass, and returns the new generation.
func (e *Engine) bumpPregenGen() int {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.pregenGen++
	return e.pregenGen
}

// pregenStale reports whether a later pregeneration call has obsoleted
// the pass that snapshotted gen.
func (e *Engine) pregenStale(gen int) bool {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return e.pregenGen != gen
}
