package worker

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	watchedExts = []string{".php", ".inc", ".phtml"}
	skippedDirs = []string{"vendor", "node_modules", ".git"}
)

// stamp identifies one version of a file. Any difference counts as a
// change, so restoring an older file (git checkout) is noticed too.
type stamp struct {
	modTime time.Time
	size    int64
}

// Watcher polls PHP sources and calls onChange when a scan finds files that
// were modified, added or removed since the previous one.
type Watcher struct {
	dirs     []string
	interval time.Duration
	logger   *slog.Logger
	onChange func()

	files  map[string]stamp
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher over dirs. It does nothing until Start.
func NewWatcher(dirs []string, interval time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dirs: dirs, interval: interval, logger: logger, onChange: onChange}
}

// Start takes the initial scan and polls until ctx is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.files = w.scan()

	w.wg.Add(1)
	go w.poll(ctx)
	w.logger.Info("file watcher started", "dirs", w.dirs, "interval", w.interval, "files", len(w.files))
}

// Stop ends polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) poll(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if changed := w.changes(); len(changed) > 0 {
			w.logger.Info("php sources changed, recycling engine", "files", len(changed), "first", changed[0])
			w.onChange()
		}
	}
}

func (w *Watcher) scan() map[string]stamp {
	files := make(map[string]stamp)
	for _, dir := range w.dirs {
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			switch {
			case err != nil:
				return nil
			case d.IsDir() && slices.Contains(skippedDirs, d.Name()):
				return filepath.SkipDir
			case d.IsDir() || !isWatchedFile(path):
				return nil
			}
			if info, err := d.Info(); err == nil {
				files[path] = stamp{modTime: info.ModTime(), size: info.Size()}
			}
			return nil
		})
	}
	return files
}

// changes rescans and returns the sorted paths that differ from the
// previous scan.
func (w *Watcher) changes() []string {
	current := w.scan()
	var changed []string
	for path, st := range current {
		if prev, ok := w.files[path]; !ok || prev != st {
			changed = append(changed, path)
		}
	}
	for path := range w.files {
		if _, ok := current[path]; !ok {
			changed = append(changed, path)
		}
	}
	w.files = current
	slices.Sort(changed)
	return changed
}

func isWatchedFile(path string) bool {
	return slices.Contains(watchedExts, strings.ToLower(filepath.Ext(path)))
}
