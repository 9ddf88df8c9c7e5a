package objstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/nex/errors"
)

// Watcher turns file writes in FSStore bucket directories into Notifications,
// the local stand-in for bucket event notifications. Only objects directly
// inside a bucket directory are reported.
type Watcher struct {
	store    *FSStore
	watcher  *fsnotify.Watcher
	buckets  map[string]string // bucket dir -> bucket name
	handler  func(Notification)
	logger   *zap.SugaredLogger
	debounce time.Duration

	mu         sync.Mutex
	pending    map[string]*time.Timer
	started    bool
	stopped    bool
	done       chan struct{}
	loopExited chan struct{}
}

// NewWatcher watches the given buckets of store and calls handler once per
// settled write. Bucket directories are created if missing.
func NewWatcher(store *FSStore, buckets []string, handler func(Notification), logger *zap.SugaredLogger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	dirs := make(map[string]string, len(buckets))
	for _, b := range buckets {
		dir := filepath.Clean(store.BucketDir(b))
		if err := os.MkdirAll(dir, 0755); err != nil {
			fw.Close()
			return nil, errors.Wrapf(err, "failed to create bucket directory %s", dir)
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, errors.Wrapf(err, "failed to watch bucket %s", b)
		}
		dirs[dir] = b
	}

	return &Watcher{
		store:      store,
		watcher:    fw,
		buckets:    dirs,
		handler:    handler,
		logger:     logger.Named("objstore.watcher"),
		debounce:   100 * time.Millisecond,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
		loopExited: make(chan struct{}),
	}, nil
}

// SetDebounce sets how long a file must stay quiet before it is reported.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins delivering notifications.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.loop()
}

func (w *Watcher) loop() {
	defer close(w.loopExited)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, tempPrefix) || strings.HasPrefix(name, ".") {
				continue
			}
			bucket, ok := w.buckets[filepath.Dir(filepath.Clean(event.Name))]
			if !ok {
				continue
			}
			w.schedule(Notification{Bucket: bucket, Key: name}, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Bucket watcher error", "error", err)
		}
	}
}

// schedule coalesces the Create+Write bursts one copy produces into a single notification.
func (w *Watcher) schedule(n Notification, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		w.logger.Debugw("Object written", "bucket", n.Bucket, "key", n.Key)
		w.handler(n)
	})
}

// Stop stops watching. Pending notifications are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for _, t := range w.pending {
		t.Stop()
	}
	started := w.started
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	if started {
		<-w.loopExited
	}
	return err
}
