// Package update detects a newer cached build of the application shell and
// lets the user opt into activating it. The coordinator runs for the
// lifetime of the shell, independent of document state.
package update

import (
	"context"
	"log"
	"sync"
	"time"
)

// MessageSkipWaiting asks a pending worker to activate immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// DefaultCheckInterval re-checks for updates in long-lived sessions.
const DefaultCheckInterval = 5 * time.Minute

// Worker is a pending, not-yet-active build.
type Worker interface {
	Version() string
	PostMessage(msg string) error
}

// EventKind discriminates platform signals.
type EventKind int

const (
	// EventInstalled fires when a worker finishes installing. IsUpdate
	// distinguishes an update from a first install.
	EventInstalled EventKind = iota
	// EventWaiting carries a reference to a pending worker.
	EventWaiting
	// EventControllerChange fires when the active worker actually changes
	// underneath the page, from any source.
	EventControllerChange
)

type Event struct {
	Kind     EventKind
	IsUpdate bool
	Worker   Worker
}

// Platform is the background-asset-cache mechanism the coordinator sits on.
type Platform interface {
	// Supported reports whether the capability exists at all; when false
	// the coordinator silently degrades to feature-off.
	Supported() bool
	// Register starts the platform and returns its event stream.
	Register(ctx context.Context) (<-chan Event, error)
	// CheckNow asks the platform to re-check for a newer version.
	CheckNow() error
}

// Coordinator drives Idle -> UpdateDetected -> (Accepted | Dismissed).
type Coordinator struct {
	platform Platform
	reload   func()
	onPrompt func(visible bool)
	interval time.Duration

	mu        sync.Mutex
	started   bool
	pending   Worker
	available bool
}

// NewCoordinator wires a coordinator. reload forces a full shell reload;
// onPrompt shows or hides the user-facing decision point and may be nil.
func NewCoordinator(platform Platform, reload func(), onPrompt func(bool)) *Coordinator {
	if onPrompt == nil {
		onPrompt = func(bool) {}
	}
	return &Coordinator{
		platform: platform,
		reload:   reload,
		onPrompt: onPrompt,
		interval: DefaultCheckInterval,
	}
}

// SetCheckInterval overrides the periodic re-check cadence.
func (c *Coordinator) SetCheckInterval(d time.Duration) { c.interval = d }

// StartWatching registers with the platform and begins watching for
// updates. Idempotent; a second call is a no-op. Unsupported platforms and
// registration failures degrade silently to "no update prompts".
func (c *Coordinator) StartWatching(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	if !c.platform.Supported() {
		return
	}
	events, err := c.platform.Register(ctx)
	if err != nil {
		log.Printf("update: registration failed: %v", err)
		return
	}
	go c.watch(ctx, events)
}

func (c *Coordinator) watch(ctx context.Context, events <-chan Event) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ev)
		case <-ticker.C:
			c.CheckNow()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) handle(ev Event) {
	switch ev.Kind {
	case EventWaiting:
		// A fresh waiting signal fully replaces any held reference: a
		// dismissed worker may no longer be the latest.
		c.mu.Lock()
		c.pending = ev.Worker
		c.available = true
		c.mu.Unlock()
		c.onPrompt(true)
	case EventInstalled:
		if !ev.IsUpdate {
			return
		}
		c.mu.Lock()
		if ev.Worker != nil {
			c.pending = ev.Worker
		}
		c.available = true
		c.mu.Unlock()
		c.onPrompt(true)
	case EventControllerChange:
		// Safety net independent of the prompt flow: activation may come
		// from elsewhere (another tab).
		c.reload()
	}
}

// CheckNow explicitly asks the platform to look for a newer version.
func (c *Coordinator) CheckNow() {
	if !c.platform.Supported() {
		return
	}
	if err := c.platform.CheckNow(); err != nil {
		log.Printf("update: check failed: %v", err)
	}
}

// Accept activates the pending worker and unconditionally reloads.
func (c *Coordinator) Accept() {
	c.mu.Lock()
	pending := c.pending
	c.available = false
	c.mu.Unlock()

	if pending != nil {
		if err := pending.PostMessage(MessageSkipWaiting); err != nil {
			log.Printf("update: skip-waiting message failed: %v", err)
		}
	}
	c.onPrompt(false)
	c.reload()
}

// Dismiss hides the prompt without activating anything. The held worker
// stays referenced but inert; it will be offered again only if the
// platform re-signals.
func (c *Coordinator) Dismiss() {
	c.mu.Lock()
	c.available = false
	c.mu.Unlock()
	c.onPrompt(false)
}

// UpdateAvailable reports whether a pending update is being offered.
func (c *Coordinator) UpdateAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// PendingVersion returns the offered version, empty when none is held.
func (c *Coordinator) PendingVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return ""
	}
	return c.pending.Version()
}
