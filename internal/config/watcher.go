package config

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

func isNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }

// Watcher reloads a FileSource when its file changes and reports the old and
// new configuration to OnChange.
type Watcher struct {
	Source   *FileSource
	OnChange func(prev, next Config)
	Debounce time.Duration
	Logger   zerolog.Logger
}

// Run watches until ctx is done. The parent directory is watched so editors
// that replace the file by rename are seen too.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	path, err := filepath.Abs(w.Source.Path())
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return err
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	log := w.Logger.With().Str("component", "config").Logger()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.reload(log)
			})
			mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config_watch_error")
		}
	}
}

func (w *Watcher) reload(log zerolog.Logger) {
	prev := w.Source.Config()
	if err := w.Source.Reload(); err != nil {
		log.Error().Err(err).Str("path", w.Source.Path()).Msg("config_reload_failed")
		return
	}
	next := w.Source.Config()
	log.Info().Str("path", w.Source.Path()).Str("selected_model", next.SelectedModel).Msg("config_reload")
	if w.OnChange != nil {
		w.OnChange(prev, next)
	}
}
