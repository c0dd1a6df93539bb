package out

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	hclog "github.com/hashicorp/go-hclog"

	compilerout "twirlhost/internal/modules/compiler/port/out"
)

const defaultDebounce = 100 * time.Millisecond

// FSWatcher reports files written or created under a directory tree.
type FSWatcher struct {
	debounce time.Duration
	logger   hclog.Logger
}

func NewFSWatcher(debounce time.Duration, logger hclog.Logger) *FSWatcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &FSWatcher{debounce: debounce, logger: logger}
}

var _ compilerout.Watcher = (*FSWatcher)(nil)

// Watch blocks until ctx is done. Bursts of events are coalesced; each
// changed path is sent once per burst, in lexical order.
func (w *FSWatcher) Watch(ctx context.Context, root string, changed chan<- string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	pending := map[string]bool{}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := watchDirRecursive(watcher, event.Name); err != nil {
					w.logger.Warn("watch new directory", "path", event.Name, "error", err)
				}
				continue
			}
			pending[event.Name] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			clear(pending)
			for _, path := range paths {
				w.logger.Debug("file changed", "path", path)
				select {
				case changed <- path:
				case <-ctx.Done():
					return nil
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
