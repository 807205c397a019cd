package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"docportal/models"
)

type fakeCounter struct {
	batchCalls  int
	singleCalls int
	batch       map[string]int64
	single      *int64
	err         error
}

func (f *fakeCounter) CountByDocument(ctx context.Context, docIDs []string) (map[string]int64, error) {
	f.batchCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f *fakeCounter) CountForDocument(ctx context.Context, docID string) (*int64, error) {
	f.singleCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.single, nil
}

func seedDocs() []models.Document {
	return []models.Document{
		{ID: "1", Year: "2024", Name: "estratto.pdf", CreatedAt: time.Now()},
		{ID: "2", Year: "2023", Name: "fattura.pdf", CreatedAt: time.Now().Add(-time.Hour)},
	}
}

func TestInitializeZeroFillsCounts(t *testing.T) {
	s := NewStore(&fakeCounter{})
	docs := seedDocs()
	docs[0].NotesCount = 99 // must not be trusted from the payload
	s.Initialize(docs)

	for _, d := range s.Documents() {
		assert.Zero(t, d.NotesCount)
	}
}

func TestApplyUploadPrependsNewestFirst(t *testing.T) {
	s := NewStore(&fakeCounter{})
	s.Initialize(seedDocs())

	s.ApplyUpload(models.Document{ID: "3", Year: "2024"})
	s.ApplyUpload(models.Document{ID: "4", Year: "2024"})

	docs := s.Documents()
	assert.Equal(t, 4, len(docs))
	assert.Equal(t, "4", docs[0].ID)
	assert.Equal(t, "3", docs[1].ID)
	assert.Equal(t, "1", docs[2].ID)
}

func TestRefreshNoteCountsEmptyStoreShortCircuits(t *testing.T) {
	fc := &fakeCounter{}
	s := NewStore(fc)
	s.Initialize(nil)

	s.RefreshNoteCounts(context.Background())

	assert.Zero(t, fc.batchCalls, "empty id set must never issue a query")
	assert.Zero(t, s.Len())
}

func TestRefreshNoteCountsMergesWithoutReordering(t *testing.T) {
	fc := &fakeCounter{batch: map[string]int64{"1": 3}}
	s := NewStore(fc)
	s.Initialize(seedDocs())

	s.RefreshNoteCounts(context.Background())

	docs := s.Documents()
	assert.Equal(t, "1", docs[0].ID)
	assert.Equal(t, int64(3), docs[0].NotesCount)
	assert.Equal(t, int64(0), docs[1].NotesCount)

	// Idempotent: re-running against the same server state converges.
	s.RefreshNoteCounts(context.Background())
	assert.Equal(t, int64(3), s.Documents()[0].NotesCount)
	assert.Equal(t, 2, fc.batchCalls)
}

func TestRefreshNoteCountsSwallowsErrors(t *testing.T) {
	fc := &fakeCounter{batch: map[string]int64{"1": 2}}
	s := NewStore(fc)
	s.Initialize(seedDocs())
	s.RefreshNoteCounts(context.Background())

	fc.err = errors.New("network down")
	s.RefreshNoteCounts(context.Background())

	// Prior counts survive the failed refresh.
	assert.Equal(t, int64(2), s.Documents()[0].NotesCount)
}

func TestRefreshCountForTouchesOnlyTarget(t *testing.T) {
	n := int64(5)
	fc := &fakeCounter{single: &n}
	s := NewStore(fc)
	s.Initialize(seedDocs())

	s.RefreshCountFor(context.Background(), "2")

	docs := s.Documents()
	assert.Equal(t, int64(0), docs[0].NotesCount)
	assert.Equal(t, int64(5), docs[1].NotesCount)
}

func TestRefreshCountForNilResultKeepsPriorValue(t *testing.T) {
	n := int64(4)
	fc := &fakeCounter{single: &n}
	s := NewStore(fc)
	s.Initialize(seedDocs())
	s.RefreshCountFor(context.Background(), "1")

	fc.single = nil // count unknown, not zero
	s.RefreshCountFor(context.Background(), "1")

	assert.Equal(t, int64(4), s.Documents()[0].NotesCount)
}

func TestFilterIsPure(t *testing.T) {
	s := NewStore(&fakeCounter{})
	s.Initialize(seedDocs())

	first := s.Filter("2024")
	second := s.Filter("2024")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, len(first))
	assert.Equal(t, "1", first[0].ID)
	assert.Equal(t, 2, s.Len(), "filtering must not shrink the stored list")

	assert.Empty(t, s.Filter("1999"))
}
