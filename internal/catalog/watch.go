package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the listing cache whenever the video directory or the
// rendition directory changes.
// Write events matter too: a file still being copied in keeps the directory
// mtime but grows. Watch blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}
	// The rendition directory is created by the transcoder and may not exist yet.
	if info, err := os.Stat(c.transcodedDir); err == nil && info.IsDir() {
		if err := w.Add(c.transcodedDir); err != nil {
			return fmt.Errorf("watch %s: %w", c.transcodedDir, err)
		}
	} else {
		c.log.Debug("transcoded directory not watched", slog.String("dir", c.transcodedDir))
	}
	c.log.Info("watching video directory", slog.String("dir", c.dir), slog.String("transcoded_dir", c.transcodedDir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) {
				c.Invalidate()
				c.log.Debug("catalog invalidated", slog.String("event", ev.Op.String()), slog.String("name", ev.Name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("catalog watcher error", slog.String("error", err.Error()))
		}
	}
}
