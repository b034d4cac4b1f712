package maintenance

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/memva/memva-go/log"
)

// Watcher watches the data directory for a rename or removal of the
// sqlite file out from under the running process, e.g. a restore from
// backup or an external sync tool swapping the file atomically. The
// embedded store never reopens automatically; this only surfaces a loud
// warning so an operator knows to restart the process.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dbPath   string
	stopChan chan struct{}
}

// NewWatcher starts watching dataDir immediately.
func NewWatcher(dataDir, dbPath string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dataDir); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{watcher: fw, dbPath: dbPath, stopChan: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	base := filepath.Base(w.dbPath)
	for {
		select {
		case <-w.stopChan:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				log.Warn().Str("path", ev.Name).Str("op", ev.Op.String()).
					Msg("database file was renamed or removed out from under the running process; restart required")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("data directory watcher error")
		}
	}
}

// Stop ends the watch goroutine and releases the underlying fd.
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.watcher.Close()
}
