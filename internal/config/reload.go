package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the config file and reloads on changes.
// It supports fsnotify file watching and SIGHUP (Unix only, registered
// in reload_unix.go). Only settings read per request (domain, forward
// credential header and method policy) take effect without a restart.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	logger    *slog.Logger
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewReloader creates a Reloader for the file the initial config was loaded from.
func NewReloader(initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current: initial,
		logger:  logger.With("component", "config_reloader"),
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback that is invoked with the new config
// after a successful reload.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start begins watching the config file and listening for SIGHUP.
func (r *Reloader) Start() error {
	path := r.Current().FilePath()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return err
	}
	r.watcher = watcher

	r.logger.Info("config file watcher started", "path", path)

	go r.watchLoop()
	r.registerSignalHandler()
	return nil
}

// Stop terminates the file watcher and signal handler.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			_ = r.watcher.Close()
		}
	})
}

// Reload loads the config from disk, validates it, and if valid swaps it
// in and notifies all registered callbacks. Returns true if the reload
// succeeded.
func (r *Reloader) Reload() bool {
	old := r.Current()
	path := old.FilePath()
	r.logger.Info("reloading configuration", "path", path)

	newCfg, err := LoadFile(path, old.cli)
	if err != nil {
		r.logger.Error("config reload failed: invalid config, keeping current",
			"path", path, "err", err)
		return false
	}

	r.mu.Lock()
	r.current = newCfg
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logChanges(old, newCfg)

	for _, cb := range callbacks {
		cb(newCfg)
	}

	r.logger.Info("configuration reloaded")
	return true
}

// watchLoop processes fsnotify events with debouncing.
func (r *Reloader) watchLoop() {
	// Editors often write several events per save.
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					r.Reload()
				})
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("file watcher error", "err", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (r *Reloader) logChanges(old, new *Config) {
	if old.Domain != new.Domain {
		r.logger.Info("domain config changed",
			"old_root", old.Domain.Root,
			"new_root", new.Domain.Root,
			"old_local_suffix", old.Domain.LocalSuffix,
			"new_local_suffix", new.Domain.LocalSuffix,
		)
	}
	if old.Forward.CredentialHeader != new.Forward.CredentialHeader {
		r.logger.Info("credential header changed",
			"old", old.Forward.CredentialHeader,
			"new", new.Forward.CredentialHeader,
		)
	}
	if old.Forward.MethodPolicy != new.Forward.MethodPolicy {
		r.logger.Info("method policy changed",
			"old", old.Forward.MethodPolicy,
			"new", new.Forward.MethodPolicy,
		)
	}
	if old.Server != new.Server || old.Registry != new.Registry || old.Log != new.Log {
		r.logger.Warn("server, registry or log settings changed; restart to apply")
	}
}
