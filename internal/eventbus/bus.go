// Package eventbus is an in-process pub/sub with bounded per-subscriber
// queues, so a slow UI or HTTP SSE subscriber never blocks the publisher.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harryaskham/io-mcp/pkg/models"
)

// DefaultQueueSize is the default per-subscriber bounded queue depth.
const DefaultQueueSize = 256

// Subscription is a handle returned by Subscribe; read Events until
// Unsubscribe is called.
type Subscription struct {
	id     uint64
	Events <-chan models.Event
	bus    *Bus
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id uint64
	ch chan models.Event

	// overflow counts total dropped events; consecFull counts drops since
	// the last successful send, to detect consumers that have stopped
	// draining entirely.
	overflow   atomic.Int64
	consecFull atomic.Int64
}

// Bus is the broker-wide event bus. Zero value is not usable; use New.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	queueSize int
	log       *slog.Logger
}

// New builds a Bus whose subscriber queues are sized queueSize (or
// DefaultQueueSize if <= 0).
func New(queueSize int, log *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs:      make(map[uint64]*subscriber),
		queueSize: queueSize,
		log:       log,
	}
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan models.Event, b.queueSize)}
	b.subs[id] = sub

	return &Subscription{id: id, Events: sub.ch, bus: b}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans the event out to every subscriber. Never blocks: a
// subscriber whose queue is full has the event dropped for it only, and
// its overflow counter incremented. A subscriber that has dropped a full
// queue's worth of events without ever draining is considered dead and
// unsubscribed opportunistically.
func (b *Bus) Publish(e models.Event) {
	b.mu.RLock()
	var dead []uint64
	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
			sub.consecFull.Store(0)
		default:
			total := sub.overflow.Add(1)
			if sub.consecFull.Add(1) >= int64(b.queueSize) {
				dead = append(dead, sub.id)
			}
			b.log.Warn("event bus subscriber queue full, dropping event",
				"subscriber_id", sub.id, "event_type", e.EventType, "overflow_count", total)
		}
	}
	b.mu.RUnlock()

	for _, id := range dead {
		b.log.Warn("unsubscribing dead event bus subscriber", "subscriber_id", id)
		b.unsubscribe(id)
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit helpers build the event and publish it.

func (b *Bus) EmitSessionCreated(sessionID string, data map[string]any) {
	b.Publish(models.NewEvent(models.EventSessionCreated, sessionID, data))
}

func (b *Bus) EmitSessionRemoved(sessionID string, data map[string]any) {
	b.Publish(models.NewEvent(models.EventSessionRemoved, sessionID, data))
}

func (b *Bus) EmitChoicesPresented(sessionID string, data map[string]any) {
	b.Publish(models.NewEvent(models.EventChoicesPresented, sessionID, data))
}

func (b *Bus) EmitSpeechRequested(sessionID string, data map[string]any) {
	b.Publish(models.NewEvent(models.EventSpeechRequested, sessionID, data))
}

func (b *Bus) EmitSelectionMade(sessionID string, data map[string]any) {
	b.Publish(models.NewEvent(models.EventSelectionMade, sessionID, data))
}

func (b *Bus) EmitRecordingState(sessionID string, data map[string]any) {
	b.Publish(models.NewEvent(models.EventRecordingState, sessionID, data))
}

func (b *Bus) EmitSettingsChanged(sessionID string, data map[string]any) {
	b.Publish(models.NewEvent(models.EventSettingsChanged, sessionID, data))
}

func (b *Bus) EmitChoicesTimeout(sessionID string, data map[string]any) {
	b.Publish(models.NewEvent(models.EventChoicesTimeout, sessionID, data))
}
