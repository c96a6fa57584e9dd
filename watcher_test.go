package aidefense

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigWatcherAppliesOverlayChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.json")

	applied := make(chan Config, 1)
	w, err := NewConfigWatcher(DefaultConfig(), path, func(cfg Config) {
		select {
		case applied <- cfg:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("watcher failed to start: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`{"speedThreshold": 42}`), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	select {
	case cfg := <-applied:
		if cfg.SpeedThreshold != 42 {
			t.Fatalf("expected overlaid threshold 42, got %v", cfg.SpeedThreshold)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("overlay change was not applied")
	}
}

func TestConfigWatcherRejectsInvalidOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.json")

	applied := make(chan Config, 1)
	w, err := NewConfigWatcher(DefaultConfig(), path, func(cfg Config) {
		applied <- cfg
	}, nil)
	if err != nil {
		t.Fatalf("watcher failed to start: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`{"speedThreshold": -5}`), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	select {
	case cfg := <-applied:
		t.Fatalf("invalid overlay must not be applied, got %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
