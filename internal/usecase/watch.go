package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long Watch waits for a burst of events to settle.
const DefaultDebounce = 500 * time.Millisecond

// WatchEvent reports the outcome of re-indexing one changed file.
type WatchEvent struct {
	Path    string
	Outcome string
	Err     error
}

// Watch re-indexes files under the documents directory as they change, until
// ctx is canceled. onEvent may be nil.
func (u *IndexUseCase) Watch(ctx context.Context, debounce time.Duration, onEvent func(WatchEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := u.addWatches(watcher, u.root); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	u.logger.Info("watching for changes", zap.String("root", u.root))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := u.addWatches(watcher, event.Name); err != nil {
						u.logger.Warn("failed to watch directory", zap.String("dir", event.Name), zap.Error(err))
					}
					continue
				}
			}
			pending[event.Name] = struct{}{}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			u.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)

			for _, p := range paths {
				if ev, ok := u.handleChange(ctx, p); ok && onEvent != nil {
					onEvent(ev)
				}
			}
		}
	}
}

// handleChange re-indexes or removes one path. Paths Walk would not return are
// ignored, except removals of documents that are still indexed.
func (u *IndexUseCase) handleChange(ctx context.Context, absPath string) (WatchEvent, bool) {
	rel, err := filepath.Rel(u.root, absPath)
	if err != nil {
		return WatchEvent{}, false
	}
	accepted, err := u.walker.Accepts(u.root, rel)
	if err != nil {
		u.logger.Warn("failed to read ignore file", zap.Error(err))
		return WatchEvent{}, false
	}
	if !accepted {
		return WatchEvent{}, false
	}

	outcome, err := u.IndexPath(ctx, absPath)
	if err != nil {
		u.logger.Warn("failed to re-index", zap.String("path", rel), zap.Error(err))
	} else {
		u.logger.Info("re-indexed", zap.String("path", rel), zap.String("outcome", outcome))
	}
	return WatchEvent{Path: filepath.ToSlash(rel), Outcome: outcome, Err: err}, true
}

// addWatches watches dir and every directory below it that Walk would enter.
func (u *IndexUseCase) addWatches(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(u.root, path)
		if err != nil {
			return err
		}
		if u.walker.SkipDir(u.root, rel) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
