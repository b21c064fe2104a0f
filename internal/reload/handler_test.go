package reload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaymux/relaymux/internal/configstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const validConfigYAML = `
version: "1"
providers:
  - name: primary
    type: anthropic
    base_url: https://primary.example.com
    auth_type: api_key
    auth_value: primary-key
model_routes:
  - pattern: "claude-*"
    entries:
      - provider: primary
        upstream_model: passthrough
        priority: 1
`

func newStoreWithConfig(t *testing.T, yaml string) (*configstore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store, err := configstore.New(path)
	if err != nil {
		t.Fatalf("configstore.New: %v", err)
	}
	return store, path
}

func TestHandler_HandleReload_FileNotFound(t *testing.T) {
	store, _ := newStoreWithConfig(t, validConfigYAML)
	h := NewHandler(store, testLogger())

	err := h.HandleReload(context.Background(), "/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestHandler_HandleReload_InvalidConfigKeepsLastGood(t *testing.T) {
	store, path := newStoreWithConfig(t, validConfigYAML)
	h := NewHandler(store, testLogger())

	if err := os.WriteFile(path, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatalf("write bad config: %v", err)
	}
	if err := h.HandleReload(context.Background(), path); err == nil {
		t.Error("expected validation error for config with no providers")
	}

	if got := store.Get().Raw.Providers[0].Name; got != "primary" {
		t.Errorf("store.Get() after failed reload = %q provider, want last-good %q", got, "primary")
	}
}

func TestHandler_HandleReload_ValidEditIsApplied(t *testing.T) {
	store, path := newStoreWithConfig(t, validConfigYAML)
	h := NewHandler(store, testLogger())

	edited := validConfigYAML + "settings:\n  unhealthy_threshold: 3\n"
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatalf("write edited config: %v", err)
	}
	if err := h.HandleReload(context.Background(), path); err != nil {
		t.Fatalf("HandleReload: %v", err)
	}
	if got := store.Get().Raw.Settings.UnhealthyThreshold; got != 3 {
		t.Errorf("UnhealthyThreshold after reload = %d, want 3", got)
	}
}

func TestHandler_HandleReload_CancelledContext(t *testing.T) {
	store, path := newStoreWithConfig(t, validConfigYAML)
	h := NewHandler(store, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.HandleReload(ctx, path); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestHandler_Run_AppliesEventsUntilContextDone(t *testing.T) {
	store, path := newStoreWithConfig(t, validConfigYAML)
	h := NewHandler(store, testLogger())

	edited := validConfigYAML + "settings:\n  unhealthy_threshold: 5\n"
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatalf("write edited config: %v", err)
	}

	events := make(chan Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, events)
		close(done)
	}()

	events <- Event{Type: EventModified, ConfigPath: path}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.Get().Raw.Settings.UnhealthyThreshold == 5 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := store.Get().Raw.Settings.UnhealthyThreshold; got != 5 {
		t.Fatalf("UnhealthyThreshold after Run applied event = %d, want 5", got)
	}

	cancel()
	<-done
}
