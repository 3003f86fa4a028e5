package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// fileWatcher pushes reloads via fsnotify instead of waiting for the next
// TTL-gated Get() call, debouncing rapid-fire writes the way editors/volume
// mounts tend to emit them.
type fileWatcher struct {
	fsw    *fsnotify.Watcher
	stopCh chan struct{}
}

// startWatcher starts a best-effort fsnotify watch on the config file's
// parent directory. If fsnotify can't start (e.g. inotify limits), it logs a
// warning and returns nil; the TTL poll in Provider.Get remains the fallback
// reload path.
func startWatcher(p *Provider) *fileWatcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("fsnotify unavailable, falling back to TTL-poll reload")
		return nil
	}
	dir := filepath.Dir(p.path)
	if err := fsw.Add(dir); err != nil {
		log.WithError(err).Warn("fsnotify watch on config directory failed")
		_ = fsw.Close()
		return nil
	}

	w := &fileWatcher{fsw: fsw, stopCh: make(chan struct{})}
	go w.run(p)
	return w
}

func (w *fileWatcher) run(p *Provider) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				if err := p.reload(); err != nil {
					log.WithError(err).WithField("path", p.path).Warn("config hot reload failed")
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("fsnotify watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *fileWatcher) stop() {
	close(w.stopCh)
	_ = w.fsw.Close()
}
