package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WarningSink receives config warnings produced by a failed reload, for
// the Message Processor to fan out as event/configWarning notifications.
type WarningSink interface {
	ConfigWarning(w Warning)
}

// Watch watches the Store's config.toml for external edits and reloads it
// on every write, reporting parse problems to sink instead of crashing —
// SPEC_FULL.md §4.B's live-reload supplement to spec.md §6.5. Watch blocks
// until ctx is cancelled or the watcher errors fatally.
func (s *Store) Watch(ctx context.Context, sink WarningSink, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			warning, err := s.reload()
			if err != nil {
				logger.Warn("config: reload failed", "path", s.path, "error", err)
				continue
			}
			if warning != nil && sink != nil {
				sink.ConfigWarning(*warning)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watcher error", "error", err)
		}
	}
}
