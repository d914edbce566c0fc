package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsWritesToWatchedFile(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "keys.yaml")
	other := filepath.Join(dir, "other.yaml")
	for _, p := range []string{watched, other} {
		if err := os.WriteFile(p, []byte("a: 1"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	w, err := NewWatcher(nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if err := w.Watch(watched); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	changed := make(chan string, 8)
	w.OnChange(func(path string) { changed <- path })
	go w.Start()

	if err := os.WriteFile(other, []byte("a: 2"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(watched, []byte("a: 3"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-changed:
		want, _ := filepath.Abs(watched)
		if got != want {
			t.Fatalf("expected change on %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notification")
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	w, err := NewWatcher(nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	done := make(chan struct{})
	go func() {
		w.Start()
		close(done)
	}()

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	_ = w.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Start to return after Stop")
	}
}
