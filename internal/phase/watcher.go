package phase

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher hot-reloads the phase library when its file changes on disk.
// A broken edit is logged and ignored; the last good library stays active.
type Watcher struct {
	path  string
	store *Store
	log   zerolog.Logger
}

// NewWatcher watches path and reloads store on change.
func NewWatcher(path string, store *Store, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:  path,
		store: store,
		log:   logger.With().Str("component", "phasewatch").Logger(),
	}
}

// Run blocks until ctx is cancelled, reloading on writes. Editors often
// emit bursts of events per save, so reloads are debounced.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.path); err != nil {
		return err
	}
	w.log.Info().Str("path", w.path).Msg("watching phase file")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("phase watch error")
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	f, err := Load(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("phase reload failed, keeping previous library")
		return
	}
	w.store.Replace(f)
	w.log.Info().Int("phases", len(f.Phases)).Int("tracks", len(f.Tracks)).Msg("phase library reloaded")
}
