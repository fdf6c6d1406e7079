package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string, cfg Config) *Watcher {
	t.Helper()
	cfg.ProjectRoot = root
	if cfg.Debounce == 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	return w
}

func waitEvent(t *testing.T, w *Watcher, timeout time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		return ev, ok
	case <-time.After(timeout):
		return Event{}, false
	}
}

func TestDebounceCoalescesWrites(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "prompts"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root, Config{Dirs: []string{"prompts"}})

	target := filepath.Join(root, "prompts", "p.txt")
	var last string
	for i := 0; i < 5; i++ {
		last = fmt.Sprintf("draft %d", i)
		if err := os.WriteFile(target, []byte(last), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ev, ok := waitEvent(t, w, 2*time.Second)
	if !ok {
		t.Fatal("no event received")
	}
	if ev.RelPath != "prompts/p.txt" {
		t.Errorf("RelPath = %q", ev.RelPath)
	}

	// by the time the event fires, the file holds the final write
	got, err := os.ReadFile(ev.AbsPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != last {
		t.Errorf("content = %q, want %q (last write)", got, last)
	}
	if ev.Size != int64(len(last)) {
		t.Errorf("Size = %d, want %d", ev.Size, len(last))
	}

	// the burst must produce exactly one event
	if extra, ok := waitEvent(t, w, 300*time.Millisecond); ok {
		t.Errorf("unexpected second event: %+v", extra)
	}
}

func TestSeparateBurstsProduceSeparateEvents(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "prompts"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root, Config{Dirs: []string{"prompts"}, Debounce: 50 * time.Millisecond})

	target := filepath.Join(root, "prompts", "p.txt")
	if err := os.WriteFile(target, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := waitEvent(t, w, 2*time.Second); !ok {
		t.Fatal("no event for first burst")
	}

	if err := os.WriteFile(target, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := waitEvent(t, w, 2*time.Second); !ok {
		t.Fatal("no event for second burst")
	}
}

func TestIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "outputs"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root, Config{
		Dirs:           []string{"outputs"},
		IgnorePatterns: []string{"*.tmp", ".DS_Store"},
	})

	if err := os.WriteFile(filepath.Join(root, "outputs", "scratch.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "outputs", "keep.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev, ok := waitEvent(t, w, 2*time.Second)
	if !ok {
		t.Fatal("no event received")
	}
	if ev.RelPath != "outputs/keep.json" {
		t.Errorf("RelPath = %q, want outputs/keep.json", ev.RelPath)
	}
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "outputs"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root, Config{Dirs: []string{"outputs"}})

	sub := filepath.Join(root, "outputs", "chunks")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// give the run loop a beat to register the new directory
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(sub, "c1.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev, ok := waitEvent(t, w, 2*time.Second)
	if !ok {
		t.Fatal("no event from new subdirectory")
	}
	if ev.RelPath != "outputs/chunks/c1.json" {
		t.Errorf("RelPath = %q", ev.RelPath)
	}
}

func TestMaxFileSizeSkipsLargeFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "outputs"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, root, Config{Dirs: []string{"outputs"}, MaxFileSize: 10})

	if err := os.WriteFile(filepath.Join(root, "outputs", "big.json"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if ev, ok := waitEvent(t, w, 500*time.Millisecond); ok {
		t.Errorf("oversize file emitted: %+v", ev)
	}
}

func TestDeleteEventsIgnored(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "outputs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	pre := filepath.Join(dir, "pre.json")
	if err := os.WriteFile(pre, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, root, Config{Dirs: []string{"outputs"}})
	if err := os.Remove(pre); err != nil {
		t.Fatal(err)
	}
	if ev, ok := waitEvent(t, w, 400*time.Millisecond); ok {
		t.Errorf("delete produced event: %+v", ev)
	}
}

func TestShouldWatchAllowPatterns(t *testing.T) {
	w := &Watcher{cfg: Config{
		WatchPatterns:  []string{"*.json", "*.txt"},
		IgnorePatterns: []string{"*.tmp"},
	}}
	tests := []struct {
		name string
		want bool
	}{
		{"a.json", true},
		{"b.txt", true},
		{"c.csv", false},
		{"d.tmp", false},
	}
	for _, tt := range tests {
		if got := w.shouldWatch(tt.name); got != tt.want {
			t.Errorf("shouldWatch(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
