// Package orchestrator implements the Request Orchestrator of spec §4.H:
// the end-to-end pipeline from a decoded inbound Messages-API call to a
// client-ready response, wiring together the Config Store, Selector,
// Health Engine, Deduplication Registry, Translator, upstream HTTP
// client, OAuth Manager, and Stream Broadcaster.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/relaymux/relaymux/internal/broadcast"
	"github.com/relaymux/relaymux/internal/config"
	"github.com/relaymux/relaymux/internal/configstore"
	"github.com/relaymux/relaymux/internal/dedup"
	"github.com/relaymux/relaymux/internal/health"
	"github.com/relaymux/relaymux/internal/metrics"
	"github.com/relaymux/relaymux/internal/selector"
	"github.com/relaymux/relaymux/internal/tokencount"
	"github.com/relaymux/relaymux/internal/tracing"
	"github.com/relaymux/relaymux/internal/translate"
	"github.com/relaymux/relaymux/internal/upstream"
)

// Doer is the subset of *upstream.Client the orchestrator needs; an
// interface so tests can substitute a fake instead of making real HTTP
// calls.
type Doer interface {
	Do(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// TokenIssuer is the subset of *oauth.Manager the orchestrator needs.
type TokenIssuer interface {
	IssueToken() (accessToken, accountEmail string, err error)
}

// ErrNoRoute signals spec §4.D's "no route at all" case (404).
var ErrNoRoute = errors.New("orchestrator: no route matches the requested model")

// ErrAllUnhealthy signals spec §4.D's "route exists but all candidates
// unhealthy" case (503).
var ErrAllUnhealthy = errors.New("orchestrator: every candidate for this route is unavailable")

// defaultBodyPreviewBytes bounds the response-health body scan, per spec
// §4.H ("response body (text-decoded preview, first N KB)").
const defaultBodyPreviewBytes = 16 * 1024

// Request is one inbound call to POST /v1/messages, already read off the
// wire but not yet parsed.
type Request struct {
	Body    []byte
	Headers http.Header
}

// Response is what the gateway HTTP layer writes back to the client.
// Exactly one of Body or Stream is meaningful, selected by IsStream.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	IsStream    bool
	Broadcaster *broadcast.Broadcaster
}

// Orchestrator holds every component the pipeline drives.
type Orchestrator struct {
	Store    *configstore.Store
	Health   *health.Engine
	Selector *selector.Selector
	Dedup    *dedup.Registry
	Upstream Doer
	OAuth    TokenIssuer       // nil when no provider is configured for OAuth
	Metrics  *metrics.Registry // nil disables metric recording
	Tracer   *tracing.Tracer   // never nil; defaults to a no-op tracer

	Now              func() time.Time
	BodyPreviewBytes int64

	// CountTokens estimates output token counts for translated streaming
	// responses (spec §4.E). Falls back to translate's own rough
	// heuristic when nil, e.g. in tests that don't need real estimates.
	CountTokens func(string) int
}

// New constructs an Orchestrator. OAuth may be nil if no provider in the
// pool uses auth_type: oauth. metricsRegistry may be nil to disable
// metric recording entirely (e.g. in tests). tracer may be nil, in which
// case a no-op tracer is installed. CountTokens is wired to a
// cl100k_base tiktoken-go estimator when available; a failure to load it
// (e.g. the encoding data can't be fetched) is non-fatal — the streaming
// translator falls back to its built-in heuristic.
func New(store *configstore.Store, healthEngine *health.Engine, sel *selector.Selector, dedupRegistry *dedup.Registry, upstreamClient Doer, oauthMgr TokenIssuer, metricsRegistry *metrics.Registry, tracer *tracing.Tracer) *Orchestrator {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	o := &Orchestrator{
		Store:            store,
		Health:           healthEngine,
		Selector:         sel,
		Dedup:            dedupRegistry,
		Upstream:         upstreamClient,
		OAuth:            oauthMgr,
		Metrics:          metricsRegistry,
		Tracer:           tracer,
		Now:              time.Now,
		BodyPreviewBytes: defaultBodyPreviewBytes,
	}
	if est, err := tokencount.Default(); err == nil {
		o.CountTokens = est.Count
	}
	return o
}

func errorBody(errType, message string) []byte {
	body, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
	return body
}

func jsonResponse(status int, body []byte) *Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{StatusCode: status, Header: h, Body: body}
}

// Handle implements spec §4.H's numbered pipeline for POST /v1/messages.
func (o *Orchestrator) Handle(ctx context.Context, in Request) (*Response, error) {
	// Step 1: validate inbound body.
	var anthReq translate.AnthropicRequest
	if err := json.Unmarshal(in.Body, &anthReq); err != nil {
		return jsonResponse(http.StatusBadRequest, errorBody("invalid_request_error", "malformed JSON body")), nil
	}
	if anthReq.Model == "" {
		return jsonResponse(http.StatusBadRequest, errorBody("invalid_request_error", "model is required")), nil
	}

	var span trace.Span
	ctx, span = o.Tracer.Start(ctx, "orchestrator.handle", trace.WithAttributes(tracing.RequestAttributes(anthReq.Model, anthReq.Stream)...))
	defer span.End()

	snap := o.Store.Get()
	settings := snap.Raw.Settings
	rules := health.CompileRules(settings.UnhealthyHTTPCodesOrDefault(), settings.UnhealthyErrorTypes, settings.UnhealthyResponseBodyPatterns)

	// Step 3: fingerprint + dedup. Streaming requests are excluded from
	// deduplication (internal/dedup's documented simplification).
	dedupOn := settings.DeduplicationEnabledOrDefault() && !anthReq.Stream
	var owner *dedup.Handle
	if dedupOn {
		normalized, err := json.Marshal(anthReq)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, errorBody("invalid_request_error", "could not normalize request body")), nil
		}
		fp := dedup.Fingerprint(anthReq.Model, normalized)
		role, handle, wait := o.Dedup.Begin(fp)
		if role == dedup.RoleSubscriber {
			if o.Metrics != nil {
				o.Metrics.DedupHitsTotal.Inc()
			}
			result := <-wait
			if result.Err != nil {
				return jsonResponse(http.StatusServiceUnavailable, errorBody("overloaded_error", result.Err.Error())), nil
			}
			return &Response{StatusCode: result.StatusCode, Header: http.Header(result.Header), Body: result.Body}, nil
		}
		owner = handle
	}
	complete := func(resp *Response) {
		if owner != nil {
			owner.Complete(dedup.Result{StatusCode: resp.StatusCode, Header: map[string][]string(resp.Header), Body: resp.Body})
		}
	}

	// Step 4: ask the Selector.
	candidates, matched := o.Selector.Select(snap, anthReq.Model)
	if !matched {
		o.recordOutcome(metrics.OutcomeNoRoute)
		resp := jsonResponse(http.StatusNotFound, errorBody("not_found_error", "no route matches the requested model"))
		complete(resp)
		return resp, nil
	}
	if len(candidates) == 0 {
		o.recordOutcome(metrics.OutcomeAllDown)
		resp := jsonResponse(http.StatusServiceUnavailable, errorBody("overloaded_error", "every candidate provider is currently unhealthy"))
		complete(resp)
		return resp, nil
	}

	toolIDs := translate.NewToolIDs()
	var lastErr error

	// Step 5: try each candidate in order. Each attempt gets its own
	// child span, per spec §4.H's note on per-attempt tracing.
	for i, cand := range candidates {
		attemptCtx, attemptSpan := o.Tracer.Start(ctx, "orchestrator.attempt", trace.WithAttributes(tracing.AttemptAttributes(cand.Provider.Name, cand.UpstreamModel, i)...))

		if anthReq.Stream {
			resp, retry, err := o.attemptStream(attemptCtx, cand, anthReq, in.Headers, toolIDs, settings, rules)
			tracing.RecordOutcome(attemptSpan, err)
			attemptSpan.End()
			if err != nil {
				lastErr = err
			}
			if retry {
				continue
			}
			o.recordOutcome(outcomeForStatus(resp.StatusCode))
			tracing.RecordOutcome(span, nil)
			return resp, nil
		}

		resp, retry, err := o.attemptNonStream(attemptCtx, cand, anthReq, in.Headers, toolIDs, settings, rules)
		tracing.RecordOutcome(attemptSpan, err)
		attemptSpan.End()
		if err != nil {
			lastErr = err
		}
		if retry {
			continue
		}
		o.recordOutcome(outcomeForStatus(resp.StatusCode))
		complete(resp)
		tracing.RecordOutcome(span, nil)
		return resp, nil
	}

	// Step 6: exhausted every candidate.
	o.recordOutcome(metrics.OutcomeError)
	tracing.RecordOutcome(span, lastErr)
	msg := "every candidate attempt failed"
	if lastErr != nil {
		msg = fmt.Sprintf("every candidate attempt failed: %s", lastErr.Error())
	}
	resp := jsonResponse(http.StatusServiceUnavailable, errorBody("overloaded_error", msg))
	complete(resp)
	return resp, nil
}

func (o *Orchestrator) recordOutcome(outcome string) {
	if o.Metrics != nil {
		o.Metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func outcomeForStatus(status int) string {
	if status >= 200 && status < 300 {
		return metrics.OutcomeSuccess
	}
	return metrics.OutcomeError
}

// translateOutboundBody implements spec §4.H step 5b for one candidate.
func translateOutboundBody(cand selector.Candidate, anthReq translate.AnthropicRequest, toolIDs *translate.ToolIDs) ([]byte, error) {
	if cand.Provider.Type == config.ProviderOpenAI {
		oaiReq, err := translate.AnthropicToOpenAIRequest(anthReq, cand.UpstreamModel, toolIDs)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: translate request to openai: %w", err)
		}
		return json.Marshal(oaiReq)
	}
	// Native Anthropic candidate: forward the same shape, with the
	// upstream-resolved model substituted in.
	out := anthReq
	out.Model = cand.UpstreamModel
	return json.Marshal(out)
}

func previewOf(body []byte, max int64) string {
	if int64(len(body)) <= max {
		return string(body)
	}
	return string(body[:max])
}
