package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// snapshot identifies one version of the config file on disk.
type snapshot struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher polls the config file and reports edits that produce a different,
// valid configuration. A broken edit is logged once and the last good config
// stays current until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    snapshot
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is polled. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher that calls onChange from
// [Watcher.Run] on every later valid edit.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	snap, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, snap
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if old, cfg := w.poll(); cfg != nil && w.onChange != nil {
				w.onChange(old, cfg)
			}
		}
	}
}

// poll returns the previous and the new config when the file now holds a
// different valid configuration, and nil otherwise.
func (w *Watcher) poll() (old, cfg *Config) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watcher: cannot stat file", "path", w.path, "err", err)
		return nil, nil
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.modTime)
	w.mu.Unlock()
	if unchanged {
		return nil, nil
	}

	snap, data, err := w.read()
	if err != nil {
		slog.Warn("config: watcher: cannot read file", "path", w.path, "err", err)
		return nil, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sameContent := snap.sum == w.seen.sum
	w.seen = snap
	if sameContent {
		return nil, nil
	}

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		// seen already points at this content, so the warning is not repeated.
		slog.Warn("config: watcher: ignoring invalid edit", "path", w.path, "err", err)
		return nil, nil
	}

	old, w.current = w.current, next
	slog.Info("config: reloaded", "path", w.path)
	return old, next
}

// read returns the file's contents with its modification time and digest.
func (w *Watcher) read() (snapshot, []byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, nil, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, nil, err
	}
	return snapshot{modTime: info.ModTime(), sum: sha256.Sum256(data)}, data, nil
}
