package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaymux/relaymux/internal/configstore"
)

// Handler drives a configstore.Store's Reload from file-change
// notifications, logging the outcome either way — a bad edit on disk
// must never crash or silently freeze the running config.
type Handler struct {
	store  *configstore.Store
	logger *slog.Logger
}

// NewHandler creates a reload handler over the given store.
func NewHandler(store *configstore.Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// HandleReload re-parses and re-validates configPath and, on success,
// atomically swaps it into the store. A malformed or invalid file on
// disk leaves the store serving its last-good snapshot.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}
	if err := h.store.Reload(configPath); err != nil {
		h.logger.Error("config reload failed", "path", configPath, "error", err)
		return fmt.Errorf("reloading config: %w", err)
	}
	h.logger.Info("config reloaded successfully", "path", configPath)
	return nil
}

// Run drives HandleReload from watcher events until ctx is done.
func (h *Handler) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = h.HandleReload(ctx, ev.ConfigPath)
		}
	}
}
