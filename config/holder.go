package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder provides thread-safe access to configuration and notifies listeners
// when the configuration file or a model definition changes.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload reloads the configuration from disk.
// Returns error if loading fails (keeps old config).
func (h *Holder) Reload() error {
	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)
	h.notify(newCfg)

	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

// OnChange registers a callback to be called when the configuration or a
// model definition changes.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

func (h *Holder) notify(cfg *Config) {
	h.mu.RLock()
	listeners := append([]func(*Config){}, h.onChange...)
	h.mu.RUnlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Watch starts watching the config file and the models directory.
// A config change triggers a reload; a definition change notifies listeners
// with the current configuration.
func (h *Holder) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	modelsDir := h.modelsDir()
	if modelsDir != "" {
		if err := watcher.Add(modelsDir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch models directory: %w", err)
		}
	}

	go h.watchLoop(modelsDir)

	h.logger.Info().Str("path", h.path).Str("models", modelsDir).Msg("watching for changes")
	return nil
}

// modelsDir resolves models.dir relative to the config file.
func (h *Holder) modelsDir() string {
	return ModelsDir(h.Get(), h.path)
}

// WatchSignals starts listening for SIGHUP to trigger reload.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()

	h.logger.Info().Msg("listening for SIGHUP to reload config")
}

// Stop stops watching for file changes and signals.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop(modelsDir string) {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// React to write or create (atomic save = create)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			switch {
			case filepath.Base(event.Name) == filename && event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("config file changed")

				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("file watch reload failed")
				}

			case modelsDir != "" && filepath.Dir(event.Name) == modelsDir && isDefinition(event.Name):
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("model definition changed")

				h.notify(h.Get())
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func isDefinition(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func (h *Holder) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", new.Logging.Level).
			Msg("log level changed")
	}

	if old.Models.Dir != new.Models.Dir {
		h.logger.Warn().
			Str("old", old.Models.Dir).
			Str("new", new.Models.Dir).
			Msg("models directory changed, restart to watch the new directory")
	}

	if old.Database != new.Database {
		h.logger.Warn().Msg("database settings changed, restart to apply")
	}
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"logging.level",
		"logging.format",
		"serialization.expand_foreign_keys",
		"serialization.expand_max_depth",
		"serialization.expand_blacklist",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"database.driver",
		"database.dsn",
		"database.name",
		"models.dir",
		"security.bcrypt_cost",
	}
}
