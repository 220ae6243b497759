package api

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"postvault/pkg/config"
)

const debounceInterval = 500 * time.Millisecond

// WatchConfig reloads the configuration whenever the file at path
// changes, until the context is cancelled. The parent directory is
// watched rather than the file itself because editors replace files on
// save. A reload that fails validation keeps the running config.
func (s *Server) WatchConfig(ctx context.Context, path string, flags map[string]interface{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	s.log.InfoWithFields("watching config file", map[string]interface{}{
		"path": path,
	})

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := config.Load(path, flags)
			if err != nil {
				s.log.WarnWithFields("config reload failed, keeping current settings", map[string]interface{}{
					"path":  path,
					"error": err.Error(),
				})
				continue
			}
			s.ReloadConfig(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.WarnWithFields("config watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
