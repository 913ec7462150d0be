package config

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	logx "tonic/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the file after it changes on disk until ctx is done. The
// parent directory is watched so editors that replace the file are seen. A
// broken watcher is recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	d := &debouncer{delay: reloadDebounce, fn: func() {
		if _, err := m.Reload(ctx); err != nil {
			m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
		}
	}}
	defer d.stop()

	retry := watchRetryMin
	for ctx.Err() == nil {
		w, err := openWatcher(dir)
		if err == nil {
			retry = watchRetryMin
			m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
			m.drain(ctx, w, file, d)
			_ = w.Close()
			if ctx.Err() != nil {
				return nil
			}
			m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		} else {
			m.log.Warn("config watch setup failed", logx.String("dir", dir), logx.Err(err))
		}

		wait := retry + rand.N(retry/2+1)
		retry = min(retry*2, watchRetryMax)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	return nil
}

func openWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "watch %q", dir)
	}
	return w, nil
}

// drain consumes events until ctx ends or the watcher breaks.
func (m *Manager) drain(ctx context.Context, w *fsnotify.Watcher, file string, d *debouncer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == file && ev.Op&reloadOps != 0 {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				d.trigger()
				continue
			}
			if errors.Is(err, fsnotify.ErrClosed) {
				return
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// debouncer runs fn once, delay after the last trigger.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
