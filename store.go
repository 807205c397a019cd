package main

import (
	"context"
	"sync"

	"docportal/models"
	"docportal/pkg/realtime"
	"docportal/pkg/session"

	"gorm.io/gorm"
)

// noteStore backs both the note channels (fetch/insert) and the session
// stores (derived counts) with the notes table. Inserts publish to the hub
// so every open panel on the document sees them.
type noteStore struct {
	db  *gorm.DB
	hub *realtime.Hub
}

func (s *noteStore) ListNotes(ctx context.Context, docID string) ([]models.Note, error) {
	var notes []models.Note
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("created_at asc").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (s *noteStore) InsertNote(ctx context.Context, docID, authorID, content string) (models.Note, error) {
	note := models.Note{DocumentID: docID, AuthorID: authorID, Content: content}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return models.Note{}, err
	}
	s.hub.Publish(note)
	return note, nil
}

func (s *noteStore) CountByDocument(ctx context.Context, docIDs []string) (map[string]int64, error) {
	type tally struct {
		DocumentID string
		N          int64
	}
	var rows []tally
	err := s.db.WithContext(ctx).Model(&models.Note{}).
		Select("document_id, count(*) as n").
		Where("document_id IN ?", docIDs).
		Group("document_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.DocumentID] = r.N
	}
	return counts, nil
}

func (s *noteStore) CountForDocument(ctx context.Context, docID string) (*int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Note{}).
		Where("document_id = ?", docID).
		Count(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// sessionRegistry holds one document session store per signed-in user,
// created lazily on the first document listing.
type sessionRegistry struct {
	counter session.NoteCounter

	mu     sync.Mutex
	stores map[string]*session.Store
}

func newSessionRegistry(counter session.NoteCounter) *sessionRegistry {
	return &sessionRegistry{counter: counter, stores: make(map[string]*session.Store)}
}

func (r *sessionRegistry) get(userID string) *session.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[userID]
	if !ok {
		st = session.NewStore(r.counter)
		r.stores[userID] = st
	}
	return st
}
