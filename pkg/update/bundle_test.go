package update

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVersion(t *testing.T, dir, name, version string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(version+"\n"), 0644))
}

func TestBundlePlatformUnsupportedWithoutDir(t *testing.T) {
	assert.False(t, NewBundlePlatform("").Supported())
	assert.False(t, NewBundlePlatform("/nonexistent/bundles").Supported())
}

func TestBundlePlatformOffersWaitingManifest(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, activeFile, "v1")
	writeVersion(t, dir, manifestFile, "v2")

	p := NewBundlePlatform(dir)
	require.True(t, p.Supported())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := p.Register(ctx)
	require.NoError(t, err)

	// The pre-existing newer manifest is offered on registration.
	ev := <-events
	require.Equal(t, EventWaiting, ev.Kind)
	assert.Equal(t, "v2", ev.Worker.Version())
}

func TestBundleWorkerActivationEmitsControllerChange(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, activeFile, "v1")
	writeVersion(t, dir, manifestFile, "v2")

	p := NewBundlePlatform(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := p.Register(ctx)
	require.NoError(t, err)

	ev := <-events
	require.Equal(t, EventWaiting, ev.Kind)
	require.NoError(t, ev.Worker.PostMessage(MessageSkipWaiting))

	assert.Equal(t, "v2", p.ActiveVersion())

	// Drain until the controller change arrives; the activation write may
	// also surface another (now stale-free) manifest check.
	for ev := range events {
		if ev.Kind == EventControllerChange {
			return
		}
	}
	t.Fatal("no controller change emitted")
}

func TestCheckNowDetectsManifestWrittenAfterRegister(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, activeFile, "v1")

	p := NewBundlePlatform(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := p.Register(ctx)
	require.NoError(t, err)

	writeVersion(t, dir, manifestFile, "v2")
	require.NoError(t, p.CheckNow())

	for ev := range events {
		if ev.Kind == EventWaiting {
			assert.Equal(t, "v2", ev.Worker.Version())
			return
		}
	}
	t.Fatal("no waiting event emitted")
}

func TestManifestMatchingActiveIsNotOffered(t *testing.T) {
	dir := t.TempDir()
	writeVersion(t, dir, activeFile, "v1")
	writeVersion(t, dir, manifestFile, "v1")

	p := NewBundlePlatform(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := p.Register(ctx)
	require.NoError(t, err)
	require.NoError(t, p.CheckNow())

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
}
