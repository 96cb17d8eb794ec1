package adapter

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch drives an Adapter off real filesystem events in new/ (job
// submission) and done/ (result pickup/deletion), using fsnotify as the
// FileWatcher implementation. It blocks until ctx is cancelled.
func Watch(ctx context.Context, a *Adapter, log *logrus.Entry) error {
	for _, sub := range []string{"new", "introduced", "pending", "done"} {
		if err := os.MkdirAll(a.dir(sub), 0750); err != nil {
			return err
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(a.dir("new")); err != nil {
		return err
	}
	if err := w.Add(a.dir("done")); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			handleEvent(a, ev, log)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if log != nil {
				log.WithError(err).Warn("file watcher error")
			}
		}
	}
}

func handleEvent(a *Adapter, ev fsnotify.Event, log *logrus.Entry) {
	name := filepath.Base(ev.Name)
	dir := filepath.Base(filepath.Dir(ev.Name))

	switch {
	case dir == "new" && (ev.Op&(fsnotify.Create|fsnotify.Write) != 0):
		if err := a.HandleNewFile(name); err != nil && log != nil {
			log.WithError(err).Warnf("handling new job file %s", name)
		}
	case dir == "done" && ev.Op&fsnotify.Remove != 0:
		if err := a.HandleResultDeleted(name); err != nil && log != nil {
			log.WithError(err).Warnf("handling result deletion for %s", name)
		}
	}
}
