package profile

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileWatcher invalidates cached profiles as soon as their backing
// `.profile` file changes on disk, instead of waiting for whatever TTL or
// restart would otherwise pick up the edit.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	cache   *Cache
	log     zerolog.Logger
}

// NewFileWatcher starts watching dirs for `.profile` file writes/removes
// and invalidating the matching Cache entry. Call Close to stop it.
func NewFileWatcher(cache *Cache, log zerolog.Logger, dirs ...string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			log.Warn().Str("dir", dir).Err(err).Msg("could not watch profile directory")
			continue
		}
	}

	fw := &FileWatcher{watcher: w, cache: cache, log: log}
	go fw.run()
	return fw, nil
}

func (fw *FileWatcher) run() {
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != ".profile" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			fw.log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("profile file changed, invalidating cache entry")
			fw.cache.Invalidate(ev.Name)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Warn().Err(err).Msg("profile file watcher error")
		}
	}
}

// Close stops the underlying watcher.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}
