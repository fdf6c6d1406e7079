// Package watcher monitors the project source directories and emits debounced
// file-change events. A generation-based debounce coalesces rapid write bursts
// into a single event per path; all timer map state lives on one goroutine.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/juand-r/ius-dashboard/internal/logging"
)

// Event is a debounced change to one file.
type Event struct {
	AbsPath string
	RelPath string // slash-separated, relative to the project root
	Size    int64
}

// Config holds watcher configuration.
type Config struct {
	ProjectRoot    string
	Dirs           []string // relative to ProjectRoot
	Debounce       time.Duration
	MaxFileSize    int64
	WatchPatterns  []string // empty = all files
	IgnorePatterns []string
}

// Watcher debounces filesystem events from the configured directories.
type Watcher struct {
	cfg    Config
	fw     *fsnotify.Watcher
	events chan Event
}

// debounceMsg is posted by timer callbacks back into the run loop.
type debounceMsg struct {
	path string
	gen  int
}

// New creates a watcher over the configured directories. Directories that do
// not exist yet are skipped with a warning.
func New(cfg Config) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:    cfg,
		fw:     fw,
		events: make(chan Event, 64),
	}

	for _, dir := range cfg.Dirs {
		abs := filepath.Join(cfg.ProjectRoot, filepath.FromSlash(dir))
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			logging.Warn("watched directory missing, skipping", logging.String("dir", abs))
			continue
		}
		if err := w.addRecursive(abs); err != nil {
			fw.Close()
			return nil, err
		}
		logging.Info("watching directory", logging.String("dir", abs))
	}

	return w, nil
}

// Events returns the debounced event channel. It is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // directory vanished mid-walk
		}
		if d.IsDir() {
			return w.fw.Add(path)
		}
		return nil
	})
}

// Run processes filesystem events until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fw.Close()

	// timerCh is the only channel timer callbacks write to; the maps are
	// touched exclusively from this goroutine.
	timerCh := make(chan debounceMsg, 64)
	timers := make(map[string]*time.Timer) // path -> active timer
	gens := make(map[string]int)           // path -> current generation

	for {
		select {
		case <-ctx.Done():
			for _, t := range timers {
				t.Stop()
			}
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue // deletions and renames propagate via sync-deletions
			}

			path, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				if event.Op&fsnotify.Create != 0 {
					if err := w.addRecursive(path); err != nil {
						logging.Warn("failed to watch new directory",
							logging.String("dir", path), logging.Err(err))
					}
				}
				continue
			}
			if !w.shouldWatch(filepath.Base(path)) {
				continue
			}

			if t, ok := timers[path]; ok {
				t.Stop()
			}
			gens[path]++
			gen := gens[path]
			p := path
			timers[p] = time.AfterFunc(w.cfg.Debounce, func() {
				select {
				case timerCh <- debounceMsg{path: p, gen: gen}:
				case <-ctx.Done():
				}
			})

		case msg := <-timerCh:
			// a newer event superseded this timer
			if gens[msg.path] != msg.gen {
				continue
			}
			delete(timers, msg.path)
			delete(gens, msg.path)

			ev, ok := w.makeEvent(msg.path)
			if !ok {
				continue
			}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return nil
			}

		case watchErr, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			logging.Error("watcher error", logging.Err(watchErr))
		}
	}
}

// makeEvent validates a fired path and builds the event for it.
func (w *Watcher) makeEvent(path string) (Event, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Event{}, false
	}
	if w.cfg.MaxFileSize > 0 && info.Size() > w.cfg.MaxFileSize {
		logging.Warn("file exceeds size limit, skipping",
			logging.String("path", path), logging.Int64("size", info.Size()))
		return Event{}, false
	}
	rel, err := filepath.Rel(w.cfg.ProjectRoot, path)
	if err != nil {
		return Event{}, false
	}
	return Event{
		AbsPath: path,
		RelPath: filepath.ToSlash(rel),
		Size:    info.Size(),
	}, true
}

// shouldWatch applies the ignore and allow patterns to a base name.
func (w *Watcher) shouldWatch(name string) bool {
	for _, pat := range w.cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return false
		}
	}
	if len(w.cfg.WatchPatterns) == 0 {
		return true
	}
	for _, pat := range w.cfg.WatchPatterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
