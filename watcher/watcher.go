// Package watcher implements the File Watcher / Reload component (C15):
// watches a configured directory tree with include/exclude glob lists,
// coalesces bursts into one notification per changed path within a
// debounce window, and hands them to a dedicated notifier goroutine
// (spec.md §4.15). fsnotify and github.com/karrick/godirwalk are both
// already the teacher's own dependencies (go.mod); godirwalk's fast
// recursive walk discovers the subdirectory set fsnotify must watch
// individually (fsnotify has no native recursive mode), and re-walks on
// every directory-creation event to pick up new subtrees.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"
	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/cmn"
)

// Callback receives one coalesced notification per distinct path that
// changed within a debounce window.
type Callback func(paths []string)

// Watcher watches Root, filtering by Include/Exclude glob lists against
// the path relative to Root. Debounce defaults to cmn.DefaultDebounce
// (300ms) when zero.
type Watcher struct {
	Root     string
	Include  []string
	Exclude  []string
	Debounce time.Duration
	OnChange Callback
	Log      *zap.Logger

	mu      sync.Mutex
	started bool
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(root string, include, exclude []string, onChange Callback, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{Root: root, Include: include, Exclude: exclude, Debounce: cmn.DefaultDebounce, OnChange: onChange, Log: log}
}

// Start registers every directory under Root with fsnotify and begins
// the debounced notifier goroutine. Double Start is a no-op (spec.md
// §4.15).
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addTree(w.Root); err != nil {
		fsw.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started = true

	w.wg.Add(1)
	go w.run(runCtx)
	return nil
}

// Stop before Start is a no-op (spec.md §4.15).
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel := w.cancel
	fsw := w.fsw
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if fsw != nil {
		fsw.Close()
	}
	w.wg.Wait()
}

// addTree walks root with godirwalk and registers every directory
// (fsnotify watches are per-directory, not recursive).
func (w *Watcher) addTree(root string) error {
	return godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			isDir, err := de.IsDirOrSymlinkToDir()
			if err != nil {
				return nil
			}
			if isDir {
				if err := w.fsw.Add(path); err != nil {
					return err
				}
			}
			return nil
		},
		Unsorted: true,
	})
}

func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.Root, path)
	if err != nil {
		rel = path
	}
	if len(w.Exclude) > 0 && matchAny(w.Exclude, rel) {
		return false
	}
	if len(w.Include) == 0 {
		return true
	}
	return matchAny(w.Include, rel)
}

func statIsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// run drains fsnotify events, coalescing distinct changed paths within
// a rolling debounce window: every new event resets the timer (spec.md
// §4.15's "coalesces bursts... into one notification"), and the pending
// set is flushed as a single OnChange call once the window elapses with
// no further events.
func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = cmn.DefaultDebounce
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})
		w.OnChange(paths)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.matches(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info := statIsDir(ev.Name); info {
					if err := w.addTree(ev.Name); err != nil {
						w.Log.Warn("watcher failed to add new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			pending[ev.Name] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerC = timer.C
		case <-timerC:
			flush()
			timerC = nil
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.Log.Warn("watcher error", zap.Error(err))
		}
	}
}
