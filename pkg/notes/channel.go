// Package notes keeps one open notes panel current across viewers. A
// Channel is the unit of subscription lifetime: Open when the panel opens,
// Close exactly once when it is dismissed. The visible list follows
// catch-up-then-follow semantics: an initial ascending fetch, then
// realtime inserts appended as they arrive.
package notes

import (
	"context"
	"log"
	"strings"
	"sync"

	"docportal/models"
)

// State of a channel. Closed both before Open and after Close.
type State int

const (
	StateClosed State = iota
	StateSubscribing
	StateLive
)

// Source fetches and inserts note rows.
type Source interface {
	// ListNotes returns every note of a document, created-at ascending.
	ListNotes(ctx context.Context, docID string) ([]models.Note, error)
	// InsertNote persists a new note and returns the stored row.
	InsertNote(ctx context.Context, docID, authorID, content string) (models.Note, error)
}

// SubscribeFunc establishes a single-document realtime subscription and
// returns its teardown. Only inserts occurring after the call are
// delivered.
type SubscribeFunc func(docID string, onInsert func(models.Note)) (unsubscribe func())

// ActorFunc resolves the authenticated author for sends. ok is false when
// no actor can be resolved; sends are then silently dropped rather than
// attributed to nobody.
type ActorFunc func(ctx context.Context) (authorID string, ok bool)

// Config wires a Channel to its collaborators.
type Config struct {
	Source    Source
	Subscribe SubscribeFunc
	Actor     ActorFunc
	// OnChange is invoked with a copy of the visible list after every
	// mutation. Optional.
	OnChange func([]models.Note)
	// OnClose fires exactly once when the channel closes; this is the
	// single place a parent refreshes the document's note count. Optional.
	OnClose func(docID string)
}

// Channel is a scoped, single-document realtime handle. Not shared across
// panels or documents.
type Channel struct {
	cfg Config

	mu    sync.Mutex
	state State
	docID string
	list  []models.Note
	seen  map[string]struct{}
	unsub func()

	closeOnce sync.Once
}

func NewChannel(cfg Config) *Channel {
	return &Channel{cfg: cfg, seen: make(map[string]struct{})}
}

// Open subscribes to inserts for docID and then catches up with a full
// ascending fetch. Subscribing first means an insert racing the snapshot
// is seen on both paths; merging de-duplicates by note id, so it lands
// exactly once.
func (c *Channel) Open(ctx context.Context, docID string) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateSubscribing
	c.docID = docID
	c.mu.Unlock()

	unsub := c.cfg.Subscribe(docID, c.onInsert)

	c.mu.Lock()
	if c.state == StateClosed {
		// Closed while the handshake was in flight; release immediately.
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsub = unsub
	c.state = StateLive
	c.mu.Unlock()

	return c.refetch(ctx)
}

// onInsert appends a realtime event to the visible list. Events for a
// closed panel or already-merged ids are dropped.
func (c *Channel) onInsert(note models.Note) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if _, dup := c.seen[note.ID]; dup {
		c.mu.Unlock()
		return
	}
	c.seen[note.ID] = struct{}{}
	c.list = append(c.list, note)
	snapshot := c.copyListLocked()
	c.mu.Unlock()

	c.notify(snapshot)
}

// Send inserts a trimmed note and re-fetches the full list so the sender
// always sees their own message, even when the realtime echo is slow or
// absent. It returns true only when a note was dispatched; callers clear
// their input box solely on a true return. Empty content and an
// unresolvable actor are silent no-ops.
func (c *Channel) Send(ctx context.Context, content string) (bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, nil
	}
	authorID, ok := c.cfg.Actor(ctx)
	if !ok {
		return false, nil
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false, nil
	}
	docID := c.docID
	c.mu.Unlock()

	if _, err := c.cfg.Source.InsertNote(ctx, docID, authorID, content); err != nil {
		return false, err
	}
	if err := c.refetch(ctx); err != nil {
		// The insert went through; a stale list until the next event is
		// tolerable.
		log.Printf("notes: refetch after send failed: %v", err)
	}
	return true, nil
}

// refetch replaces the list with a fresh ascending snapshot, keeping any
// realtime-only notes the snapshot has not caught up to yet.
func (c *Channel) refetch(ctx context.Context) error {
	c.mu.Lock()
	docID := c.docID
	c.mu.Unlock()

	fetched, err := c.cfg.Source.ListNotes(ctx, docID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Panel already dismissed; do not resurrect state for it.
		c.mu.Unlock()
		return nil
	}
	inSnapshot := make(map[string]struct{}, len(fetched))
	for _, n := range fetched {
		inSnapshot[n.ID] = struct{}{}
	}
	var tail []models.Note
	for _, n := range c.list {
		if _, ok := inSnapshot[n.ID]; !ok {
			tail = append(tail, n)
		}
	}
	c.list = append(fetched, tail...)
	c.seen = inSnapshot
	for _, n := range tail {
		c.seen[n.ID] = struct{}{}
	}
	snapshot := c.copyListLocked()
	c.mu.Unlock()

	c.notify(snapshot)
	return nil
}

// Close tears the subscription down exactly once and fires OnClose exactly
// once. Safe to call repeatedly.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		unsub := c.unsub
		c.unsub = nil
		docID := c.docID
		c.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		if c.cfg.OnClose != nil {
			c.cfg.OnClose(docID)
		}
	})
}

// Notes returns a copy of the visible list.
func (c *Channel) Notes() []models.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyListLocked()
}

// State reports the channel's lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) copyListLocked() []models.Note {
	out := make([]models.Note, len(c.list))
	copy(out, c.list)
	return out
}

func (c *Channel) notify(list []models.Note) {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(list)
	}
}
