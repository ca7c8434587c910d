// Package inbox defines the InboxItem tagged variant — one unit of work
// awaiting operator action — and its completion latch.
package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/harryaskham/io-mcp/pkg/models"
)

// Kind is the closed set of InboxItem variants.
type Kind string

const (
	KindChoices     Kind = "choices"
	KindMultiSelect Kind = "multi_select"
	KindSpeech      Kind = "speech"
	KindConfirm     Kind = "confirm"
)

// Result is the outcome written by the UI collaborator when an item is
// resolved. Exactly one of Selected/SelectedMulti is populated, per Kind.
type Result struct {
	Selected      string
	Summary       string
	SelectedMulti []string
}

// Item is one unit of work awaiting operator action. The zero value is not
// usable; construct with New.
type Item struct {
	ID        string
	Kind      Kind
	Preamble  string
	Choices   []models.Choice
	Text      string
	Blocking  bool
	Priority  int
	Owner     context.Context
	Timestamp time.Time

	// processing/done/result are mutated only by the owning Session under
	// its mutex; Item itself has no lock.
	Processing bool
	Done       bool
	Result     *Result

	// latch is signalled exactly once, when Done transitions to true.
	latch chan struct{}
}

// New constructs an Item with a fresh completion latch.
func New(kind Kind, owner context.Context) *Item {
	return &Item{
		ID:        uuid.NewString(),
		Kind:      kind,
		Owner:     owner,
		Timestamp: time.Now(),
		latch:     make(chan struct{}),
	}
}

// Latch returns the channel the caller waits on; it closes exactly once.
func (it *Item) Latch() <-chan struct{} {
	return it.latch
}

// Resolve writes the result and signals the latch. Resolve must only be
// called while holding the owning session's mutex, and must only be called
// once per item (the `done ⇒ result≠null ⇒ latch signalled` invariant).
func (it *Item) Resolve(result Result) {
	if it.Done {
		return
	}
	it.Result = &result
	it.Done = true
	it.Processing = false
	close(it.latch)
}

// Orphaned reports whether the owning caller is no longer alive, using
// the owner's context cancellation as the liveness signal.
func (it *Item) Orphaned() bool {
	return it.Owner != nil && it.Owner.Err() != nil
}
