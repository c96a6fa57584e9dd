package aidefense

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// ConfigWatcher watches a JSON overlay file and invokes a callback with the
// merged configuration whenever the file changes. The base configuration is
// fixed at construction; each reload starts from it, so removing a key from
// the overlay reverts that setting.
type ConfigWatcher struct {
	base    Config
	path    string
	watcher *fsnotify.Watcher
	logger  *log.Logger
	apply   func(Config)
	done    chan struct{}
}

// NewConfigWatcher starts watching the overlay's directory. Watching the
// directory rather than the file survives editors that replace the file on
// save.
func NewConfigWatcher(base Config, path string, apply func(Config), logger *log.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create: %v", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watcher: watch %s: %v", dir, err)
	}

	w := &ConfigWatcher{
		base:    base,
		path:    path,
		watcher: watcher,
		logger:  logger,
		apply:   apply,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *ConfigWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := w.base.WithOverlayFile(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("config overlay reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("config overlay rejected")
		return
	}
	w.logger.Info().Str("path", w.path).Msg("configuration reloaded")
	w.apply(cfg)
}

// Close stops the watcher goroutine.
func (w *ConfigWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
