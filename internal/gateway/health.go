package gateway

import (
	"encoding/json"
	"net/http"
)

// healthResponse is the JSON body for GET /health.
type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth implements spec §6's liveness endpoint: always 200 once
// the process is up and routing requests. Provider health is reported
// separately via GET /providers, not folded into liveness.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
	}
}
