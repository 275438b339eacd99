package catalog_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/catalog"
	"github.com/sophialabs/meetpoint/internal/testutil"
)

func TestWatcher_DetectsFileCreate(t *testing.T) {
	tmpDir := t.TempDir()

	var changes atomic.Int32
	w, err := catalog.NewWatcher(tmpDir, 100*time.Millisecond, &testutil.NoopLogger{}, func() {
		changes.Add(1)
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	writeFile(t, filepath.Join(tmpDir, "stations.yaml"), "stations: []")
	time.Sleep(500 * time.Millisecond)

	if changes.Load() < 1 {
		t.Error("expected at least one reload")
	}
}

func TestWatcher_SingleFile(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "stations.yaml")
	writeFile(t, target, "stations: []")

	var changes atomic.Int32
	w, err := catalog.NewWatcher(target, 100*time.Millisecond, &testutil.NoopLogger{}, func() {
		changes.Add(1)
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	// A sibling file must not trigger a reload.
	writeFile(t, filepath.Join(tmpDir, "other.yaml"), "stations: []")
	time.Sleep(400 * time.Millisecond)
	if changes.Load() != 0 {
		t.Fatalf("expected no reload for sibling file, got %d", changes.Load())
	}

	writeFile(t, target, "stations:\n  - {id: 1, name: Alpha}\n")
	time.Sleep(400 * time.Millisecond)
	if changes.Load() < 1 {
		t.Error("expected reload on modify")
	}
}

func TestWatcher_IgnoresNonYAML(t *testing.T) {
	tmpDir := t.TempDir()

	var changes atomic.Int32
	w, err := catalog.NewWatcher(tmpDir, 100*time.Millisecond, &testutil.NoopLogger{}, func() {
		changes.Add(1)
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	_ = os.WriteFile(filepath.Join(tmpDir, "readme.txt"), []byte("hello"), 0o644)
	time.Sleep(500 * time.Millisecond)

	if changes.Load() != 0 {
		t.Error("expected no reload for non-YAML file")
	}
}

func TestWatcher_Debounce(t *testing.T) {
	tmpDir := t.TempDir()

	var changes atomic.Int32
	w, err := catalog.NewWatcher(tmpDir, 200*time.Millisecond, &testutil.NoopLogger{}, func() {
		changes.Add(1)
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()
	w.Start()

	for i := range 5 {
		_ = os.WriteFile(filepath.Join(tmpDir, "stations.yaml"), []byte("# rev "+string(rune('a'+i))), 0o644)
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if count := changes.Load(); count > 2 {
		t.Errorf("expected 1-2 reloads (debounced), got %d", count)
	}
}

func TestWatcher_MissingPath(t *testing.T) {
	_, err := catalog.NewWatcher(filepath.Join(t.TempDir(), "missing"), time.Second, &testutil.NoopLogger{}, func() {})
	if err == nil {
		t.Error("expected error for missing path")
	}
}
