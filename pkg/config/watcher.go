package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ga4access/pkg/observability"
)

// PolicyWatcher reloads a policy file when it changes on disk. The
// containing directory is watched so editors that replace the file by
// rename are picked up.
type PolicyWatcher struct {
	path     string
	base     Policy
	apply    func(Policy) error
	logger   *logrus.Logger
	debounce time.Duration

	mu      sync.Mutex
	current Policy
}

// NewPolicyWatcher returns a watcher for path. base holds the values that
// apply when a key is missing from the file; apply receives every
// successfully parsed policy.
func NewPolicyWatcher(path string, base Policy, apply func(Policy) error, logger *logrus.Logger) *PolicyWatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PolicyWatcher{
		path:     filepath.Clean(path),
		base:     base,
		apply:    apply,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		current:  base,
	}
}

// Current returns the last applied policy
func (w *PolicyWatcher) Current() Policy {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.clone()
}

// Reload reads the file and applies it. On failure the previous policy
// stays in force.
func (w *PolicyWatcher) Reload() error {
	p, err := LoadPolicyFile(w.path, w.base)
	if err != nil {
		return err
	}
	if w.apply != nil {
		if err := w.apply(p); err != nil {
			return fmt.Errorf("failed to apply policy: %w", err)
		}
	}
	w.mu.Lock()
	w.current = p
	w.mu.Unlock()
	w.logger.WithField("path", w.path).Info("Policy reloaded")
	return nil
}

// Run watches until ctx is cancelled
func (w *PolicyWatcher) Run(ctx context.Context) error {
	defer observability.RecoverPanic(w.logger, "policy watcher")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			reload = timer.C
		case <-reload:
			reload = nil
			if err := w.Reload(); err != nil {
				w.logger.WithError(err).WithField("path", w.path).Warn("Policy reload failed, keeping previous policy")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Policy watcher error")
		}
	}
}
