package update

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	mu       sync.Mutex
	version  string
	messages []string
}

func (w *fakeWorker) Version() string { return w.version }

func (w *fakeWorker) PostMessage(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
	return nil
}

func (w *fakeWorker) received() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.messages))
	copy(out, w.messages)
	return out
}

type fakePlatform struct {
	supported bool
	regErr    error
	events    chan Event
	checks    int
}

func (p *fakePlatform) Supported() bool { return p.supported }

func (p *fakePlatform) Register(ctx context.Context) (<-chan Event, error) {
	if p.regErr != nil {
		return nil, p.regErr
	}
	return p.events, nil
}

func (p *fakePlatform) CheckNow() error {
	p.checks++
	return nil
}

type recorder struct {
	mu      sync.Mutex
	reloads int
	prompts []bool
}

func (r *recorder) reload() {
	r.mu.Lock()
	r.reloads++
	r.mu.Unlock()
}

func (r *recorder) prompt(v bool) {
	r.mu.Lock()
	r.prompts = append(r.prompts, v)
	r.mu.Unlock()
}

func (r *recorder) reloadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloads
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

func TestWaitingEventOffersUpdate(t *testing.T) {
	p := &fakePlatform{supported: true, events: make(chan Event, 4)}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)
	c.StartWatching(context.Background())

	w := &fakeWorker{version: "v2"}
	p.events <- Event{Kind: EventWaiting, Worker: w}

	waitFor(t, c.UpdateAvailable)
	assert.Equal(t, "v2", c.PendingVersion())
}

func TestAcceptPostsSkipWaitingAndReloads(t *testing.T) {
	p := &fakePlatform{supported: true, events: make(chan Event, 4)}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)
	c.StartWatching(context.Background())

	w := &fakeWorker{version: "v2"}
	p.events <- Event{Kind: EventWaiting, Worker: w}
	waitFor(t, c.UpdateAvailable)

	c.Accept()

	require.Equal(t, []string{MessageSkipWaiting}, w.received())
	assert.Equal(t, 1, rec.reloadCount())
	assert.False(t, c.UpdateAvailable())
}

func TestDismissHidesWithoutMessagingWorker(t *testing.T) {
	p := &fakePlatform{supported: true, events: make(chan Event, 4)}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)
	c.StartWatching(context.Background())

	w := &fakeWorker{version: "v2"}
	p.events <- Event{Kind: EventWaiting, Worker: w}
	waitFor(t, c.UpdateAvailable)

	c.Dismiss()

	assert.Empty(t, w.received())
	assert.Zero(t, rec.reloadCount())
	assert.False(t, c.UpdateAvailable())
	// The reference is retained, inert for this session.
	assert.Equal(t, "v2", c.PendingVersion())
}

func TestNewWaitingSignalReplacesHeldWorker(t *testing.T) {
	p := &fakePlatform{supported: true, events: make(chan Event, 4)}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)
	c.StartWatching(context.Background())

	p.events <- Event{Kind: EventWaiting, Worker: &fakeWorker{version: "v2"}}
	waitFor(t, c.UpdateAvailable)
	c.Dismiss()

	later := &fakeWorker{version: "v3"}
	p.events <- Event{Kind: EventWaiting, Worker: later}
	waitFor(t, c.UpdateAvailable)

	assert.Equal(t, "v3", c.PendingVersion())
	c.Accept()
	assert.Equal(t, []string{MessageSkipWaiting}, later.received())
}

func TestControllerChangeForcesReload(t *testing.T) {
	p := &fakePlatform{supported: true, events: make(chan Event, 4)}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)
	c.StartWatching(context.Background())

	p.events <- Event{Kind: EventControllerChange}

	waitFor(t, func() bool { return rec.reloadCount() == 1 })
	assert.False(t, c.UpdateAvailable(), "prompt flow is independent of the safety net")
}

func TestFirstInstallIsNotAnUpdate(t *testing.T) {
	p := &fakePlatform{supported: true, events: make(chan Event, 4)}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)
	c.StartWatching(context.Background())

	p.events <- Event{Kind: EventInstalled, IsUpdate: false}
	p.events <- Event{Kind: EventInstalled, IsUpdate: true}

	waitFor(t, c.UpdateAvailable)
}

func TestUnsupportedPlatformDegradesSilently(t *testing.T) {
	p := &fakePlatform{supported: false}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)

	c.StartWatching(context.Background())
	c.CheckNow()

	assert.Zero(t, p.checks)
	assert.False(t, c.UpdateAvailable())
}

func TestRegistrationErrorIsSwallowed(t *testing.T) {
	p := &fakePlatform{supported: true, regErr: errors.New("registration denied")}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)

	c.StartWatching(context.Background())

	assert.False(t, c.UpdateAvailable())
}

func TestStartWatchingIsIdempotent(t *testing.T) {
	p := &fakePlatform{supported: true, events: make(chan Event, 4)}
	rec := &recorder{}
	c := NewCoordinator(p, rec.reload, rec.prompt)

	c.StartWatching(context.Background())
	c.StartWatching(context.Background())

	p.events <- Event{Kind: EventControllerChange}
	waitFor(t, func() bool { return rec.reloadCount() >= 1 })
	// A second watcher would double the reloads.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.reloadCount())
}
