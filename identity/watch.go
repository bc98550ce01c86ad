package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// LoadFile replaces the user list from a JSON file.
func (d *Directory) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()
	return d.Load(f)
}

// Watch loads path and reloads it whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file on save
// are handled.
func (d *Directory) Watch(ctx context.Context, path string) error {
	if err := d.LoadFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go d.watchLoop(ctx, watcher, filepath.Clean(path))
	return nil
}

func (d *Directory) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := d.LoadFile(path); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Directory.watchLoop",
					"path":     path,
					"error":    err.Error(),
				}).Warn("Failed to reload users file, keeping previous list")
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function": "Directory.watchLoop",
				"path":     path,
			}).Info("Users file reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "Directory.watchLoop",
				"error":    err.Error(),
			}).Warn("Users file watcher error")
		}
	}
}
