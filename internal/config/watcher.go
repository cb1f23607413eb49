package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrUnchanged is returned by [Watcher.Reload] when the file content matches
// the config already in effect.
var ErrUnchanged = errors.New("config: file unchanged")

// fileState fingerprints the config file. size and mtime are compared first
// so unchanged files are not re-read on every poll.
type fileState struct {
	size  int64
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps the current configuration in sync with a file. [Watcher.Run]
// polls the file; [Watcher.Reload] forces a check, e.g. on SIGHUP. The
// callback receives the old and new config after a valid change. Settings
// that [Diff] reports as hot-reloadable can be applied from there; the rest
// take effect on restart.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, updated *Config)

	// reloadMu serialises reloads from Run and explicit Reload calls.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	state   fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run]. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher holding it as the current
// config. It does not start polling; call [Watcher.Run] for that.
func NewWatcher(path string, onChange func(old, updated *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.state = st
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file every interval until ctx is cancelled. Invalid files
// are logged and the previous config stays in effect.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.modified() {
				continue
			}
			if _, err := w.Reload(); err != nil && !errors.Is(err, ErrUnchanged) {
				slog.Warn("config reload failed", "path", w.path, "err", err)
			}
		}
	}
}

// Reload re-reads the file and, when its content changed and validates,
// makes it current and invokes the callback. It returns the difference to
// the previous config, or [ErrUnchanged].
func (w *Watcher) Reload() (ConfigDiff, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, st, err := w.read()
	if err != nil {
		return ConfigDiff{}, err
	}

	w.mu.Lock()
	if st.sum == w.state.sum {
		// Touched, not edited.
		w.state = st
		w.mu.Unlock()
		return ConfigDiff{}, ErrUnchanged
	}
	old := w.current
	w.current = cfg
	w.state = st
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("configuration reloaded", "path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"policy_changed", d.PolicyChanged)
	if len(d.RestartRequired) > 0 {
		slog.Warn("some config changes take effect after restart", "sections", d.RestartRequired)
	}

	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return d, nil
}

// modified reports whether the file's size or mtime differ from the last
// successful read. Stat errors count as modified so Reload reports them.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return info.Size() != w.state.size || !info.ModTime().Equal(w.state.mtime)
}

// read loads and validates the file and fingerprints its content.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{size: info.Size(), mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
