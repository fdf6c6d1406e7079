package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordThenUnchanged(t *testing.T) {
	j := openJournal(t)
	mtime := time.Now()

	if j.Unchanged("a.json", 10, mtime) {
		t.Error("unrecorded path reported unchanged")
	}
	if err := j.Record("a.json", 10, mtime); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !j.Unchanged("a.json", 10, mtime) {
		t.Error("recorded path not reported unchanged")
	}
}

func TestChangedSizeOrMTime(t *testing.T) {
	j := openJournal(t)
	mtime := time.Now()
	if err := j.Record("a.json", 10, mtime); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if j.Unchanged("a.json", 11, mtime) {
		t.Error("size change not detected")
	}
	if j.Unchanged("a.json", 10, mtime.Add(time.Second)) {
		t.Error("mtime change not detected")
	}
}

func TestForget(t *testing.T) {
	j := openJournal(t)
	mtime := time.Now()
	if err := j.Record("a.json", 10, mtime); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.Forget("a.json"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if j.Unchanged("a.json", 10, mtime) {
		t.Error("forgotten path reported unchanged")
	}
}
