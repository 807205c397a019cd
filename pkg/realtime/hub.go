// Package realtime is the in-process broker behind the note channels. It
// plays the role a hosted realtime service would: subscriptions are scoped
// to a single document id and only ever see inserts for that document.
package realtime

import (
	"sync"

	"docportal/models"
)

const subscriptionBuffer = 64

// Hub fans out note inserts to every live subscription for the target
// document. Publishing never blocks the caller; a subscriber that cannot
// keep up has events dropped (the panel re-fetch on send covers the gap).
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription is a single-document realtime handle, exclusively owned by
// the panel that created it.
type Subscription struct {
	hub   *Hub
	docID string
	ch    chan models.Note
	once  sync.Once
	done  chan struct{}
}

// Subscribe registers fn for every future insert on docID. Events received
// before Subscribe returns are not replayed; callers must catch up with a
// fetch first.
func (h *Hub) Subscribe(docID string, fn func(models.Note)) *Subscription {
	sub := &Subscription{
		hub:   h,
		docID: docID,
		ch:    make(chan models.Note, subscriptionBuffer),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[docID] == nil {
		h.subs[docID] = make(map[*Subscription]struct{})
	}
	h.subs[docID][sub] = struct{}{}
	h.mu.Unlock()

	go sub.pump(fn)
	return sub
}

func (s *Subscription) pump(fn func(models.Note)) {
	for {
		select {
		case note := <-s.ch:
			fn(note)
		case <-s.done:
			return
		}
	}
}

// Unsubscribe releases the handle. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.docID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.docID)
			}
		}
		s.hub.mu.Unlock()
		close(s.done)
	})
}

// Publish delivers an inserted note to every subscription on its document.
func (h *Hub) Publish(note models.Note) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[note.DocumentID] {
		select {
		case sub.ch <- note:
		default:
			// drop on slow subscriber
		}
	}
}

// Subscribers reports how many live handles a document has.
func (h *Hub) Subscribers(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[docID])
}
