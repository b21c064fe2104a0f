package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaymux/relaymux/internal/broadcast"
	"github.com/relaymux/relaymux/internal/config"
	"github.com/relaymux/relaymux/internal/health"
	"github.com/relaymux/relaymux/internal/metrics"
	"github.com/relaymux/relaymux/internal/selector"
	"github.com/relaymux/relaymux/internal/translate"
	"github.com/relaymux/relaymux/internal/upstream"
)

// maxLookaheadBytes bounds how much of a stream's first SSE block the
// orchestrator will buffer while checking for an immediate error event,
// per spec §4.H step 5e.
const maxLookaheadBytes = 8 * 1024

// attemptStream implements spec §4.H step 5e. Before any byte reaches the
// client, it reads a small lookahead to detect an immediate upstream
// error; if found, the attempt is treated as failed and the caller may
// retry the next candidate. Once a Broadcaster is handed back in resp,
// bytes may already be queued for the client and failover is no longer
// possible — any later upstream error surfaces as an Anthropic error
// event within the stream itself, per spec, not as a retry.
func (o *Orchestrator) attemptStream(ctx context.Context, cand selector.Candidate, anthReq translate.AnthropicRequest, clientHeaders http.Header, toolIDs *translate.ToolIDs, settings config.Settings, rules health.Rules) (resp *Response, retry bool, attemptErr error) {
	credential, err := o.resolveCredential(cand.Provider, clientHeaders)
	if err != nil {
		return nil, true, err
	}

	body, err := translateOutboundBody(cand, anthReq, toolIDs)
	if err != nil {
		return nil, true, err
	}

	req := upstream.Request{
		Provider: cand.Provider,
		Path:     upstream.PathFor(cand.Provider),
		Headers:  upstream.BuildHeaders(cand.Provider, credential, true),
		Body:     body,
		Stream:   true,
	}

	start := time.Now()
	streamCtx, cancel := context.WithCancel(ctx)
	upResp, err := o.Upstream.Do(streamCtx, req)
	if err != nil {
		cancel()
		isErr, _, outcome := classifyAttempt(0, err, "", false, rules)
		marked := o.Health.RecordOutcome(cand.Provider.Name, outcome)
		o.observeUpstream(cand.Provider.Name, metrics.OutcomeError, time.Since(start))
		if isErr && marked {
			return nil, true, err
		}
		return jsonResponse(http.StatusServiceUnavailable, errorBody("api_error", err.Error())), false, err
	}

	if upResp.StatusCode != http.StatusOK {
		defer cancel()
		previewRaw, _ := io.ReadAll(io.LimitReader(upResp.Body, o.previewBytes()))
		upResp.Body.Close()
		preview := string(previewRaw)
		_, reason, outcome := classifyAttempt(upResp.StatusCode, nil, preview, false, rules)
		marked := o.Health.RecordOutcome(cand.Provider.Name, outcome)
		o.observeUpstream(cand.Provider.Name, metrics.OutcomeError, time.Since(start))
		if marked {
			return nil, true, fmt.Errorf("provider %q: %s (status %d)", cand.Provider.Name, reason, upResp.StatusCode)
		}
		h := make(http.Header)
		h.Set("Content-Type", "application/json")
		return &Response{StatusCode: upResp.StatusCode, Header: h, Body: previewRaw}, false, nil
	}

	reader := bufio.NewReaderSize(upResp.Body, 4096)
	lookahead, leadErr := readLookaheadBlock(reader, maxLookaheadBytes)
	if looksLikeSSEError(lookahead) {
		cancel()
		upResp.Body.Close()
		preview := string(lookahead)
		_, reason, outcome := classifyAttempt(http.StatusOK, nil, preview, true, rules)
		marked := o.Health.RecordOutcome(cand.Provider.Name, outcome)
		o.observeUpstream(cand.Provider.Name, metrics.OutcomeError, time.Since(start))
		if marked {
			return nil, true, fmt.Errorf("provider %q: %s", cand.Provider.Name, reason)
		}
		return jsonResponse(http.StatusBadGateway, errorBody("api_error", "upstream returned an immediate stream error")), false, nil
	}

	idleTimeout := time.Duration(settings.StreamingIdleTimeoutSeconds) * time.Second
	totalTimeout := time.Duration(settings.StreamingTotalTimeoutSeconds) * time.Second
	bc := broadcast.New(broadcast.Config{IdleTimeout: idleTimeout, TotalTimeout: totalTimeout}, cancel)

	translateLine := lineTranslator(cand, anthReq.Model, toolIDs, o.CountTokens)

	pending := lookahead
	consumedLeadErr := leadErr
	next := func() ([]byte, error) {
		if len(pending) > 0 {
			chunk := pending
			pending = nil
			out, terr := translateLine(chunk)
			if terr != nil {
				return nil, terr
			}
			if consumedLeadErr != nil {
				return out, consumedLeadErr
			}
			return out, nil
		}
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			out, terr := translateLine(line)
			if terr != nil {
				return out, terr
			}
			return out, err
		}
		return nil, err
	}

	go func() {
		bc.Pump(streamCtx, cancel, next)
		upResp.Body.Close()
		status, _ := bc.Status()
		outcome := health.OutcomeSuccess
		latencyOutcome := metrics.OutcomeSuccess
		if status.Err != nil {
			_, _, outcome = classifyAttempt(http.StatusOK, nil, "", true, rules)
			latencyOutcome = metrics.OutcomeError
		}
		o.Health.RecordOutcome(cand.Provider.Name, outcome)
		o.observeUpstream(cand.Provider.Name, latencyOutcome, time.Since(start))
	}()

	return &Response{StatusCode: http.StatusOK, IsStream: true, Broadcaster: bc}, false, nil
}

// readLookaheadBlock reads up to max bytes or the first blank-line (SSE
// event terminator) boundary, whichever comes first, and returns
// whatever was read. A read error (including io.EOF for a short stream)
// is returned alongside the bytes already consumed.
func readLookaheadBlock(r *bufio.Reader, max int) ([]byte, error) {
	var buf bytes.Buffer
	for buf.Len() < max {
		line, err := r.ReadBytes('\n')
		buf.Write(line)
		if err != nil {
			return buf.Bytes(), err
		}
		if bytes.Equal(bytes.TrimRight(line, "\r\n"), []byte("")) && buf.Len() > len(line) {
			// blank line: end of one SSE event block.
			return buf.Bytes(), nil
		}
	}
	return buf.Bytes(), nil
}

// looksLikeSSEError detects an immediate failure in the lookahead block:
// an Anthropic "event: error" SSE event, or a bare JSON error object (the
// shape some OpenAI-compatible backends return instead of a valid first
// stream chunk).
func looksLikeSSEError(block []byte) bool {
	if bytes.Contains(block, []byte("event: error")) {
		return true
	}
	trimmed := bytes.TrimSpace(block)
	if bytes.HasPrefix(trimmed, []byte("{")) && !bytes.HasPrefix(trimmed, []byte("data:")) {
		var probe struct {
			Error json.RawMessage `json:"error"`
		}
		if json.Unmarshal(trimmed, &probe) == nil && len(probe.Error) > 0 {
			return true
		}
	}
	return false
}

// lineTranslator returns a function converting one raw upstream line (or
// lookahead block) into client-ready Anthropic SSE bytes. countTokens may
// be nil, in which case the stream translator falls back to its own
// rough estimate.
func lineTranslator(cand selector.Candidate, requestedModel string, toolIDs *translate.ToolIDs, countTokens func(string) int) func([]byte) ([]byte, error) {
	if cand.Provider.Type != config.ProviderOpenAI {
		// Native Anthropic upstream: forward bytes unchanged.
		return func(line []byte) ([]byte, error) { return line, nil }
	}

	state := translate.NewOpenAIToAnthropicStream(requestedModel, toolIDs, countTokens)
	return func(line []byte) ([]byte, error) {
		trimmed := strings.TrimRight(string(line), "\r\n")
		if trimmed == "" {
			return nil, nil
		}
		events, err := state.Feed([]byte(trimmed))
		if err != nil {
			return nil, fmt.Errorf("translate: stream line: %w", err)
		}
		var out bytes.Buffer
		for _, ev := range events {
			enc, err := ev.Encode()
			if err != nil {
				return nil, fmt.Errorf("translate: encode sse event: %w", err)
			}
			out.Write(enc)
		}
		return out.Bytes(), nil
	}
}
