// Package session holds the authoritative in-memory document list for one
// signed-in portal session. The list is seeded once from the database,
// then mutated only client-side: uploads prepend, note-panel closes refresh
// a single count, year filtering is a pure derivation.
package session

import (
	"context"
	"log"
	"sync"

	"docportal/models"
)

// NoteCounter supplies derived note counts. Both queries may fail
// transiently; the store treats a failure as "count still unknown" and
// keeps whatever it had.
type NoteCounter interface {
	// CountByDocument tallies notes per document id for the given set in a
	// single batched query. Ids absent from the result have zero notes.
	CountByDocument(ctx context.Context, docIDs []string) (map[string]int64, error)
	// CountForDocument counts notes for one document. A nil result means
	// the count could not be determined (distinct from zero).
	CountForDocument(ctx context.Context, docID string) (*int64, error)
}

// Store is the single mutable shared resource of a portal session. All
// mutations go through its methods; reads return copies.
type Store struct {
	counter NoteCounter

	mu   sync.Mutex
	docs []models.Document
}

func NewStore(counter NoteCounter) *Store {
	return &Store{counter: counter}
}

// Initialize seeds the store from the server list (already newest-first).
// Every document starts with a zero notes count; counts are corrected
// asynchronously by RefreshNoteCounts.
func (s *Store) Initialize(docs []models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make([]models.Document, len(docs))
	copy(s.docs, docs)
	for i := range s.docs {
		s.docs[i].NotesCount = 0
	}
}

// RefreshNoteCounts issues one batched count query for every loaded
// document and merges the tallies in place. Order and all other fields are
// untouched. Calling with an empty store is a no-op and must not hit the
// counter at all: an empty id filter would match unintended rows.
func (s *Store) RefreshNoteCounts(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.docs))
	for i := range s.docs {
		ids = append(ids, s.docs[i].ID)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	counts, err := s.counter.CountByDocument(ctx, ids)
	if err != nil {
		// Stale counts are an acceptable degraded state.
		log.Printf("session: note count refresh failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.docs {
		s.docs[i].NotesCount = counts[s.docs[i].ID]
	}
}

// ApplyUpload prepends a freshly uploaded document. Pure client-side
// mutation, no re-fetch.
func (s *Store) ApplyUpload(doc models.Document) {
	doc.NotesCount = 0
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append([]models.Document{doc}, s.docs...)
}

// RefreshCountFor re-counts a single document, typically when its notes
// panel closes. Only that document's count can change; a nil count result
// leaves the prior value in place.
func (s *Store) RefreshCountFor(ctx context.Context, docID string) {
	count, err := s.counter.CountForDocument(ctx, docID)
	if err != nil {
		log.Printf("session: count refresh for %s failed: %v", docID, err)
		return
	}
	if count == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.docs {
		if s.docs[i].ID == docID {
			s.docs[i].NotesCount = *count
			return
		}
	}
}

// Filter returns the documents whose Year equals year, preserving stored
// order. The underlying list is never mutated and filtering never does I/O.
func (s *Store) Filter(year string) []models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Document, 0)
	for i := range s.docs {
		if s.docs[i].Year == year {
			out = append(out, s.docs[i])
		}
	}
	return out
}

// Documents returns a copy of the full held list.
func (s *Store) Documents() []models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Len reports how many documents are loaded.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
