package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/relaymux/relaymux/internal/security"
)

// providerStatus is one entry of GET /providers, per spec §6's table:
// name, type, enabled, healthy, error_count, unhealthy_since, last_success.
type providerStatus struct {
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	Enabled        bool       `json:"enabled"`
	Healthy        bool       `json:"healthy"`
	ErrorCount     uint       `json:"error_count"`
	UnhealthySince *time.Time `json:"unhealthy_since,omitempty"`
	LastSuccess    *time.Time `json:"last_success,omitempty"`
}

// handleListProviders implements GET /providers: the Config Store's
// current provider list joined with the Health Engine's per-provider
// state.
func (g *Gateway) handleListProviders() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := g.store.Get()
		out := make([]providerStatus, 0, len(snap.Raw.Providers))
		for _, p := range snap.Raw.Providers {
			state := g.health.Snapshot(p.Name)
			ps := providerStatus{
				Name:       p.Name,
				Type:       string(p.Type),
				Enabled:    p.IsEnabled(),
				Healthy:    g.health.IsSelectable(p.Name, p.IsEnabled()),
				ErrorCount: state.ErrorCount,
			}
			if !state.UnhealthySince.IsZero() {
				t := state.UnhealthySince
				ps.UnhealthySince = &t
			}
			if !state.LastSuccess.IsZero() {
				t := state.LastSuccess
				ps.LastSuccess = &t
			}
			out = append(out, ps)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

// handleReloadProviders implements POST /providers/reload: reparse the
// config file and atomically swap the Config Store snapshot. 200 on
// success, 400 on a parse or validation failure — the last-good
// snapshot keeps serving either way.
func (g *Gateway) handleReloadProviders() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := g.store.Reload(g.configPath); err != nil {
			g.emitAuditEvent(security.EventConfigReload, "reload failed: "+err.Error())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write(jsonError("invalid_request_error", err.Error()))
			return
		}
		g.emitAuditEvent(security.EventConfigReload, "reload succeeded")
		w.WriteHeader(http.StatusOK)
	}
}
