package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor or an atomic
// rename produces.
const DefaultDebounce = 200 * time.Millisecond

// Watch calls fn with the reloaded settings every time the file changes,
// until ctx is cancelled. The parent directory is watched so the file can be
// replaced by rename. A reload error is passed to fn rather than ending the
// watch.
func (st *Store) Watch(ctx context.Context, fn func(ConnectionSettings, error)) error {
	return st.WatchDebounced(ctx, DefaultDebounce, fn)
}

// WatchDebounced is Watch with an explicit debounce delay.
func (st *Store) WatchDebounced(ctx context.Context, debounce time.Duration, fn func(ConnectionSettings, error)) error {
	target, err := filepath.Abs(st.path())
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", st.path(), err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fn(ConnectionSettings{}, fmt.Errorf("settings watcher: %w", err))

		case <-timer.C:
			s, err := st.Load()
			fn(s, err)
		}
	}
}
