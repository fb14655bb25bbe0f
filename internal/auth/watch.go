package auth

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watch invalidates the cached session whenever the cookie file changes on
// disk, e.g. after `kw login` in another process. It returns once the watcher
// is installed and stops when ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}

	dir := filepath.Dir(m.cookieStore.Path())
	if err := os.MkdirAll(dir, 0700); err != nil {
		w.Close()
		return errors.Wrap(err, "create cookie dir")
	}
	// The file is replaced by rename on save, so watch its directory.
	if err := w.Add(dir); err != nil {
		w.Close()
		return errors.Wrapf(err, "watch %s", dir)
	}

	target := filepath.Clean(m.cookieStore.Path())
	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				m.logger.Info("cookie file changed, dropping cached session", "path", target)
				m.Invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Error("watch error", "err", err)
			}
		}
	}()
	return nil
}
