package docextract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must stay quiet before it is processed.
// Spreadsheet tools and copies write a file in several bursts.
const DefaultSettle = 500 * time.Millisecond

// Watcher processes supported documents dropped into a directory.
type Watcher struct {
	proc    *Processor
	settle  time.Duration
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup

	// done is called after every processed file; tests hook it.
	done func(path, out string, err error)
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, proc *Processor, settle time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		proc:    proc,
		settle:  settle,
		watcher: w,
		pending: make(map[string]*time.Timer),
		done:    func(string, string, error) {},
	}, nil
}

// Run handles events until ctx is cancelled, then waits for in-flight files
// and closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.proc.logger()
	defer func() {
		w.stopPending()
		w.wg.Wait()
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if IsOutput(event.Name) {
				continue
			}
			if _, err := KindOf(event.Name); err != nil {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", "error", err)
		}
	}
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		if w.closed {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		out, err := w.proc.ProcessToFile(ctx, path)
		if err != nil {
			w.proc.logger().Error("Document extraction failed", "path", path, "error", err)
		} else {
			w.proc.logger().Info("Document extracted", "path", path, "output", out)
		}
		w.done(path, out, err)
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
