package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/matheus3301/berry/internal/bus"
	"go.uber.org/zap"
)

// settle is how long the file must stay quiet before it is reloaded.
const settle = 200 * time.Millisecond

// Watcher reloads the config file on external edits and publishes
// config.changed with the new *Config as payload.
type Watcher struct {
	file    *File
	bus     *bus.Bus
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Watch starts watching the directory holding f. Editors replace files by
// rename, so the directory is watched rather than the file itself.
func Watch(ctx context.Context, f *File, b *bus.Bus, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(f.Path())); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{file: f, bus: b, logger: logger, watcher: fw, done: make(chan struct{})}
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	name := filepath.Base(w.file.Path())

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != name || evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
				fire = timer.C
			} else {
				timer.Reset(settle)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-fire:
			timer, fire = nil, nil
			w.reload()
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.file.Load()
	if err != nil {
		w.logger.Warn("ignoring unreadable config", zap.String("path", w.file.Path()), zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.String("path", w.file.Path()))
	w.bus.Publish(bus.NewEvent(bus.KindConfigChanged, cfg))
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
