package credstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the record file and invokes onChange whenever it is
// created, rewritten, or removed by another process (typically the CLI
// login tool writing a fresh record while a server is running). The watch
// is placed on the parent directory because Save replaces the file via
// rename, which would silently detach a watch on the file itself.
//
// Watch blocks until ctx is canceled. onChange is called from the watch
// goroutine; callers requiring serialization must provide it themselves.
func Watch(ctx context.Context, path string, onChange func(), logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credstore: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("credstore: watching %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	logger.Debug("watching credential record",
		slog.String("path", target),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			logger.Debug("credential record changed",
				slog.String("op", ev.Op.String()),
			)

			onChange()

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("credential record watch error",
				slog.String("error", watchErr.Error()),
			)
		}
	}
}
