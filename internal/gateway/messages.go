package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/relaymux/relaymux/internal/orchestrator"
	"github.com/relaymux/relaymux/internal/translate"
)

// handleMessages implements POST /v1/messages: reads the body, hands it
// to the Orchestrator, and either writes a buffered JSON response or
// pumps the Stream Broadcaster out as SSE, depending on the response
// orchestrator.Handle returns.
func (g *Gateway) handleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "could not read request body")
			return
		}

		resp, err := g.orch.Handle(r.Context(), orchestrator.Request{Body: body, Headers: r.Header})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}

		if resp.IsStream {
			g.pumpStream(w, r, resp)
			return
		}

		for k, v := range resp.Header {
			w.Header()[k] = v
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
	}
}

// pumpStream relays a Broadcaster's chunks to the client as SSE,
// tracking the active-subscriber gauge and unsubscribing on client
// disconnect, per spec §4.G.
func (g *Gateway) pumpStream(w http.ResponseWriter, r *http.Request, resp *orchestrator.Response) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "api_error", "streaming not supported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := resp.Broadcaster.Subscribe()
	if g.metrics != nil {
		g.metrics.ActiveSubscribers.Inc()
		defer g.metrics.ActiveSubscribers.Dec()
	}
	defer resp.Broadcaster.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if len(chunk.Data) > 0 {
				if _, err := w.Write(chunk.Data); err != nil {
					return
				}
				flusher.Flush()
			}
			if chunk.Err != nil {
				return
			}
		}
	}
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// handleCountTokens implements POST /v1/messages/count_tokens: an
// estimate, not an exact count, per spec.md's own framing — no dedup,
// no provider selection.
func (g *Gateway) handleCountTokens() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req translate.AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON body")
			return
		}
		if g.counter == nil {
			writeError(w, http.StatusInternalServerError, "api_error", "token counter unavailable")
			return
		}
		count, err := g.counter.CountRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, countTokensResponse{InputTokens: count})
	}
}
