package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Bundle directory layout: a deploy drops a new build and rewrites
// manifestFile with its version string; activeFile records the version the
// shell currently serves. A manifest newer than the active file is the
// "waiting worker".
const (
	manifestFile = "app.version"
	activeFile   = "current.version"
)

// BundlePlatform implements Platform over a local build-bundle directory,
// watching the manifest with fsnotify and falling back to explicit checks
// for long sessions.
type BundlePlatform struct {
	dir string

	mu     sync.Mutex
	events chan Event
}

// NewBundlePlatform returns a platform rooted at dir. An empty dir means
// the capability is absent and the platform reports unsupported.
func NewBundlePlatform(dir string) *BundlePlatform {
	return &BundlePlatform{dir: dir}
}

func (p *BundlePlatform) Supported() bool {
	if p.dir == "" {
		return false
	}
	info, err := os.Stat(p.dir)
	return err == nil && info.IsDir()
}

func (p *BundlePlatform) Register(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(p.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	p.mu.Lock()
	p.events = make(chan Event, 8)
	events := p.events
	p.mu.Unlock()

	go func() {
		defer watcher.Close()
		defer close(events)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != manifestFile {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				p.emitIfNewer()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Watch errors degrade to interval checks only.
				_ = err
			case <-ctx.Done():
				return
			}
		}
	}()

	// Offer a version that was already waiting before registration.
	p.emitIfNewer()
	return events, nil
}

// CheckNow re-reads the manifest and emits a waiting event when it differs
// from the active version.
func (p *BundlePlatform) CheckNow() error {
	if !p.Supported() {
		return fmt.Errorf("bundle dir %q not available", p.dir)
	}
	p.emitIfNewer()
	return nil
}

func (p *BundlePlatform) emitIfNewer() {
	manifest := p.readVersion(manifestFile)
	if manifest == "" {
		return
	}
	active := p.readVersion(activeFile)
	if manifest == active {
		return
	}

	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if events == nil {
		return
	}
	select {
	case events <- Event{Kind: EventWaiting, Worker: &bundleWorker{platform: p, version: manifest}}:
	default:
		// an identical offer is already queued
	}
}

func (p *BundlePlatform) readVersion(name string) string {
	b, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// activate promotes version to active and signals a controller change,
// mirroring a worker taking control after skip-waiting.
func (p *BundlePlatform) activate(version string) error {
	path := filepath.Join(p.dir, activeFile)
	if err := os.WriteFile(path, []byte(version+"\n"), 0644); err != nil {
		return err
	}
	p.mu.Lock()
	events := p.events
	p.mu.Unlock()
	if events != nil {
		select {
		case events <- Event{Kind: EventControllerChange}:
		default:
		}
	}
	return nil
}

// ActiveVersion returns the version the shell currently serves.
func (p *BundlePlatform) ActiveVersion() string {
	return p.readVersion(activeFile)
}

// bundleWorker is the pending build offered by a waiting event.
type bundleWorker struct {
	platform *BundlePlatform
	version  string
}

func (w *bundleWorker) Version() string { return w.version }

func (w *bundleWorker) PostMessage(msg string) error {
	if msg != MessageSkipWaiting {
		return nil
	}
	return w.platform.activate(w.version)
}
