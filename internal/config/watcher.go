package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file when it changes on disk, so a
// long-lived chat session picks up edits without a restart.
type Watcher struct {
	loader   *Loader
	logger   zerolog.Logger
	onChange func(*Config)
}

// NewWatcher creates a watcher. onChange receives each successfully
// reloaded and validated config.
func NewWatcher(loader *Loader, logger zerolog.Logger, onChange func(*Config)) (*Watcher, error) {
	if loader == nil {
		return nil, fmt.Errorf("config loader is required")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	return &Watcher{
		loader:   loader,
		logger:   logger,
		onChange: onChange,
	}, nil
}

// Watch blocks until ctx is cancelled, reloading on writes to the
// config file. Editors often replace the file rather than write it in
// place, so the parent directory is watched and events filtered.
func (w *Watcher) Watch(ctx context.Context) error {
	path := w.loader.GetConfigPath()
	if path == "" {
		return fmt.Errorf("config path could not be resolved")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	// Debounce: editors fire several events per save.
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := w.loader.Load()
			if err != nil {
				w.logger.Warn().Err(err).Msg("Config reload failed; keeping previous config")
				continue
			}
			if err := cfg.Validate(); err != nil {
				w.logger.Warn().Err(err).Msg("Reloaded config is invalid; keeping previous config")
				continue
			}
			w.logger.Info().Str("path", path).Msg("Config reloaded")
			w.onChange(cfg)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
