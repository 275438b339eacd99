package catalog

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sophialabs/meetpoint/internal/infrastructure/ports"
)

// Watcher watches a catalog file or directory and calls onChange, debounced,
// after YAML files are written, created, renamed or removed.
type Watcher struct {
	path     string
	file     string // set when path is a single file
	debounce time.Duration
	logger   ports.Logger
	watcher  *fsnotify.Watcher
	onChange func()
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for path. A single file is watched through its
// parent directory so editors that replace the file are still seen.
func NewWatcher(path string, debounce time.Duration, logger ports.Logger, onChange func()) (*Watcher, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		debounce: debounce,
		logger:   logger,
		watcher:  fsWatcher,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	if fi.IsDir() {
		err = w.addRecursive(path)
	} else {
		w.file = filepath.Clean(path)
		err = fsWatcher.Add(filepath.Dir(path))
	}
	if err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

// Start begins watching in a goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop terminates the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.wg.Wait()
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("catalog change detected", "file", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("catalog watcher error", "error", err)

		case <-timerC:
			w.logger.Info("reloading station catalog")
			w.onChange()
			timerC = nil
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if w.file != "" {
		return filepath.Clean(event.Name) == w.file
	}
	if isYAMLFile(event.Name) {
		return true
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}
	return false
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}
