package catalog

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fentz26/qgate/internal/logging"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher marks the resolver's snapshot stale when workspace files change.
type Watcher struct {
	resolver *Resolver
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending *time.Timer
}

// NewWatcher registers every non-excluded directory under the resolver root.
func NewWatcher(r *Resolver, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		resolver: r,
		watcher:  fw,
		debounce: debounce,
		logger:   logging.OrNop(logger).Named("watcher"),
	}
	if err := w.addTree(r.Root()); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.resolver.Root() && w.resolver.exclude[d.Name()] {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Run processes events until ctx is done. It always closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	if ev.Has(fsnotify.Create) {
		// new directories need their own watch; plain files are a no-op walk
		_ = w.addTree(ev.Name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		w.resolver.MarkStale()
		w.logger.Debug("catalog marked stale", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
}
