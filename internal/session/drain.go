package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/harryaskham/io-mcp/internal/eventbus"
	"github.com/harryaskham/io-mcp/internal/inbox"
	"github.com/harryaskham/io-mcp/pkg/models"
)

// presentTimeout bounds how long the drain loop waits for the
// collaborator to resolve a head item before force-resolving it. This is
// independent of (and longer than) the tool-dispatcher's own blocking
// wait budget, since the collaborator itself may be slow to
// render without having failed outright.
const presentTimeout = 10 * time.Minute

// Collaborator is the UI layer: it consumes inbox items and writes
// results. Present must eventually call item.Resolve(...) exactly once,
// or return an error, in which case the drain loop force-resolves with
// the kind-specific fallback.
type Collaborator interface {
	Present(ctx context.Context, sess *Session, item *inbox.Item) error
}

// StartDrainLoop launches the per-session drain-loop goroutine. One
// goroutine per session, created when the session is created, retained
// until StopDrainLoop is called on session removal. The loop peeks the
// head under the session mutex, dispatches it with the mutex released,
// then pops it once resolved, never holding the session mutex across the
// collaborator callout.
func (s *Session) StartDrainLoop(collab Collaborator, bus *eventbus.Bus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	go s.drainLoop(collab, bus, log)
}

// StopDrainLoop signals the drain loop to exit and waits for it to do so.
func (s *Session) StopDrainLoop() {
	close(s.drainStop)
	<-s.drainDone
}

func (s *Session) drainLoop(collab Collaborator, bus *eventbus.Bus, log *slog.Logger) {
	defer close(s.drainDone)

	for {
		select {
		case <-s.drainStop:
			return
		case <-s.drainKick:
		}

		for {
			item := s.PeekInbox()
			if item == nil {
				break
			}

			s.mu.Lock()
			item.Processing = true
			s.activeItem = item
			if item.Kind != inbox.KindSpeech {
				s.Active = true
				s.Preamble = item.Preamble
				s.Choices = item.Choices
			}
			s.mu.Unlock()

			s.presentOne(collab, item, log)

			s.mu.Lock()
			// CancelAllPending may have emptied the queue (and done-logged
			// the item) while the collaborator held it; only pop if this
			// item is still the head.
			if len(s.inboxQueue) > 0 && s.inboxQueue[0] == item {
				s.popHeadLocked()
				s.appendDoneLocked(item)
				if item.Kind != inbox.KindSpeech && item.Result != nil {
					s.recordHistoryLocked(item.Preamble + ": " + item.Result.Selected)
				}
			}
			if s.activeItem == item {
				s.Active = false
				s.activeItem = nil
			}
			s.kick()
			s.mu.Unlock()

			if bus != nil && item.Result != nil {
				bus.EmitSelectionMade(s.ID, map[string]any{
					"item_id":  item.ID,
					"kind":     string(item.Kind),
					"selected": item.Result.Selected,
				})
			}

			select {
			case <-s.drainStop:
				return
			default:
			}
		}
	}
}

// presentOne dispatches item to the collaborator and waits (bounded) for
// resolution. If the collaborator errors or times out, the item is
// force-resolved with its kind-specific fallback so subsequent items
// remain processable.
func (s *Session) presentOne(collab Collaborator, item *inbox.Item, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), presentTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- collab.Present(ctx, s, item)
	}()

	select {
	case <-item.Latch():
		return
	case err := <-errCh:
		if err != nil {
			log.Warn("collaborator failed presenting inbox item, force-resolving",
				"session_id", s.ID, "item_id", item.ID, "kind", item.Kind, "err", err)
			item.Resolve(fallbackResult(item.Kind))
		}
		// err == nil: Present returned successfully, which per contract
		// means it already resolved the item; wait for the latch itself
		// to be certain.
		select {
		case <-item.Latch():
		case <-ctx.Done():
			item.Resolve(fallbackResult(item.Kind))
		}
	case <-ctx.Done():
		log.Warn("collaborator timed out presenting inbox item, force-resolving",
			"session_id", s.ID, "item_id", item.ID, "kind", item.Kind)
		item.Resolve(fallbackResult(item.Kind))
	}
}

// fallbackResult is the kind-specific force-resolve result:
// `{selected: "_speech_done"}` for speech, `{selected: "_cancelled"}` for
// choices/multi_select/confirm.
func fallbackResult(kind inbox.Kind) inbox.Result {
	if kind == inbox.KindSpeech {
		return inbox.Result{Selected: models.SentinelSpeechDone}
	}
	return inbox.Result{Selected: models.SentinelCancelled}
}
