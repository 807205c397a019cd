package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"docportal/models"
)

type sink struct {
	mu    sync.Mutex
	notes []models.Note
}

func (s *sink) accept(n models.Note) {
	s.mu.Lock()
	s.notes = append(s.notes, n)
	s.mu.Unlock()
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPublishReachesOnlyMatchingDocument(t *testing.T) {
	h := NewHub()
	a, b := &sink{}, &sink{}
	subA := h.Subscribe("doc1", a.accept)
	subB := h.Subscribe("doc2", b.accept)
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	h.Publish(models.Note{ID: "n1", DocumentID: "doc1"})

	waitFor(t, func() bool { return a.count() == 1 })
	assert.Zero(t, b.count())
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := NewHub()
	a, b := &sink{}, &sink{}
	subA := h.Subscribe("doc1", a.accept)
	subB := h.Subscribe("doc1", b.accept)
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	h.Publish(models.Note{ID: "n1", DocumentID: "doc1"})
	h.Publish(models.Note{ID: "n2", DocumentID: "doc1"})

	waitFor(t, func() bool { return a.count() == 2 && b.count() == 2 })
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	h := NewHub()
	a := &sink{}
	sub := h.Subscribe("doc1", a.accept)
	assert.Equal(t, 1, h.Subscribers("doc1"))

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Zero(t, h.Subscribers("doc1"))

	h.Publish(models.Note{ID: "n1", DocumentID: "doc1"})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, a.count())
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	h := NewHub()
	block := make(chan struct{})
	sub := h.Subscribe("doc1", func(models.Note) { <-block })
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer*2; i++ {
			h.Publish(models.Note{ID: "n", DocumentID: "doc1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
	close(block)
}
