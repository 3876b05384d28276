package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	mu       sync.Mutex
	policies []Policy
	err      error
}

func (r *recordingApplier) apply(p Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.policies = append(r.policies, p)
	return nil
}

func (r *recordingApplier) last() (Policy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.policies) == 0 {
		return Policy{}, false
	}
	return r.policies[len(r.policies)-1], true
}

func TestPolicyWatcherReload(t *testing.T) {
	logger, hook := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_extensions: 1\n"), 0o600))

	rec := &recordingApplier{}
	w := NewPolicyWatcher(path, DefaultPolicy(), rec.apply, logger)

	require.NoError(t, w.Reload())
	assert.Equal(t, 1, w.Current().MaxExtensions)
	p, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, 1, p.MaxExtensions)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	require.NoError(t, os.WriteFile(path, []byte("warning_threshold_days: [5]\n"), 0o600))
	assert.Error(t, w.Reload())
	assert.Equal(t, 1, w.Current().MaxExtensions, "invalid file keeps previous policy")

	rec.err = errors.New("engine rejected policy")
	require.NoError(t, os.WriteFile(path, []byte("max_extensions: 2\n"), 0o600))
	assert.Error(t, w.Reload())
	assert.Equal(t, 1, w.Current().MaxExtensions)
}

func TestPolicyWatcherRunPicksUpChanges(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_extensions: 1\n"), 0o600))

	rec := &recordingApplier{}
	w := NewPolicyWatcher(path, DefaultPolicy(), rec.apply, logger)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The watch is registered asynchronously, so keep rewriting until it lands.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("max_extensions: 6\n"), 0o600)
		p, ok := rec.last()
		return ok && p.MaxExtensions == 6
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestPolicyWatcherIgnoresOtherFiles(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_extensions: 1\n"), 0o600))

	rec := &recordingApplier{}
	w := NewPolicyWatcher(path, DefaultPolicy(), rec.apply, logger)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	_, ok := rec.last()
	assert.False(t, ok)
}

func TestPolicyWatcherMissingDirectory(t *testing.T) {
	w := NewPolicyWatcher(filepath.Join(t.TempDir(), "nope", "policy.yaml"), DefaultPolicy(), nil, nil)
	assert.Error(t, w.Run(context.Background()))
}
