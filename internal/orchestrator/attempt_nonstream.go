package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaymux/relaymux/internal/config"
	"github.com/relaymux/relaymux/internal/health"
	"github.com/relaymux/relaymux/internal/metrics"
	"github.com/relaymux/relaymux/internal/selector"
	"github.com/relaymux/relaymux/internal/translate"
	"github.com/relaymux/relaymux/internal/upstream"
)

// attemptNonStream implements spec §4.H step 5 for one candidate, in the
// non-streaming branch (step 5d). retry reports whether the caller
// should move on to the next candidate; when retry is false, resp is the
// final answer for the client.
func (o *Orchestrator) attemptNonStream(ctx context.Context, cand selector.Candidate, anthReq translate.AnthropicRequest, clientHeaders http.Header, toolIDs *translate.ToolIDs, settings config.Settings, rules health.Rules) (resp *Response, retry bool, attemptErr error) {
	credential, err := o.resolveCredential(cand.Provider, clientHeaders)
	if err != nil {
		return nil, true, err
	}

	body, err := translateOutboundBody(cand, anthReq, toolIDs)
	if err != nil {
		return nil, true, err
	}

	timeout := time.Duration(settings.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := upstream.Request{
		Provider: cand.Provider,
		Path:     upstream.PathFor(cand.Provider),
		Headers:  upstream.BuildHeaders(cand.Provider, credential, false),
		Body:     body,
		Stream:   false,
	}

	start := time.Now()
	upResp, err := o.Upstream.Do(callCtx, req)
	if err != nil {
		isErr, _, outcome := classifyAttempt(0, err, "", false, rules)
		marked := o.Health.RecordOutcome(cand.Provider.Name, outcome)
		o.observeUpstream(cand.Provider.Name, metrics.OutcomeError, time.Since(start))
		if isErr && marked {
			return nil, true, err
		}
		return jsonResponse(http.StatusServiceUnavailable, errorBody("api_error", err.Error())), false, err
	}
	defer upResp.Body.Close()

	respBytes, err := io.ReadAll(upResp.Body)
	if err != nil {
		outcome := health.OutcomeQualifyingFailure
		marked := o.Health.RecordOutcome(cand.Provider.Name, outcome)
		o.observeUpstream(cand.Provider.Name, metrics.OutcomeError, time.Since(start))
		if marked {
			return nil, true, err
		}
		return jsonResponse(http.StatusBadGateway, errorBody("api_error", "failed reading upstream response")), false, err
	}

	preview := previewOf(respBytes, o.previewBytes())
	isErr, reason, outcome := classifyAttempt(upResp.StatusCode, nil, preview, false, rules)
	marked := o.Health.RecordOutcome(cand.Provider.Name, outcome)
	latencyOutcome := metrics.OutcomeSuccess
	if isErr {
		latencyOutcome = metrics.OutcomeError
	}
	o.observeUpstream(cand.Provider.Name, latencyOutcome, time.Since(start))

	if !isErr {
		translated, terr := translateInboundResponse(cand, respBytes, anthReq.Model, toolIDs)
		if terr != nil {
			return jsonResponse(http.StatusBadGateway, errorBody("api_error", "failed translating upstream response")), false, terr
		}
		h := make(http.Header)
		h.Set("Content-Type", "application/json")
		return &Response{StatusCode: http.StatusOK, Header: h, Body: translated}, false, nil
	}

	if marked {
		return nil, true, fmt.Errorf("provider %q: %s (status %d)", cand.Provider.Name, reason, upResp.StatusCode)
	}

	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{StatusCode: upResp.StatusCode, Header: h, Body: respBytes}, false, nil
}

// observeUpstream records one upstream call's latency and the provider's
// resulting selectability, a no-op when no metrics.Registry is wired.
func (o *Orchestrator) observeUpstream(provider, outcome string, d time.Duration) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.UpstreamLatency.WithLabelValues(provider, outcome).Observe(d.Seconds())
	o.Metrics.SetProviderHealthy(provider, o.Health.IsSelectable(provider, true))
}

func (o *Orchestrator) previewBytes() int64 {
	if o.BodyPreviewBytes > 0 {
		return o.BodyPreviewBytes
	}
	return defaultBodyPreviewBytes
}

// translateInboundResponse implements spec §4.H step 5d's "translate
// response" for a successful non-streaming call.
func translateInboundResponse(cand selector.Candidate, raw []byte, requestedModel string, toolIDs *translate.ToolIDs) ([]byte, error) {
	if cand.Provider.Type != config.ProviderOpenAI {
		// Native Anthropic upstream already speaks the client's dialect.
		return raw, nil
	}
	var oaiResp translate.OpenAIResponse
	if err := json.Unmarshal(raw, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	anthResp := translate.OpenAIToAnthropicResponse(oaiResp, requestedModel, toolIDs)
	return json.Marshal(anthResp)
}
