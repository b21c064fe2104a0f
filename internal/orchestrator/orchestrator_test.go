package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relaymux/relaymux/internal/configstore"
	"github.com/relaymux/relaymux/internal/dedup"
	"github.com/relaymux/relaymux/internal/health"
	"github.com/relaymux/relaymux/internal/selector"
	"github.com/relaymux/relaymux/internal/upstream"
)

const testConfigYAML = `
version: "1"
providers:
  - name: primary
    type: anthropic
    base_url: https://primary.example.com
    auth_type: api_key
    auth_value: primary-key
  - name: secondary
    type: openai
    base_url: https://secondary.example.com
    auth_type: api_key
    auth_value: secondary-key
model_routes:
  - pattern: "claude-*"
    entries:
      - provider: primary
        upstream_model: passthrough
        priority: 1
      - provider: secondary
        upstream_model: gpt-4o
        priority: 2
settings:
  unhealthy_threshold: 1
  auth:
    enabled: false
`

func newTestOrchestrator(t *testing.T, doer Doer) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store, err := configstore.New(path)
	if err != nil {
		t.Fatalf("configstore.New: %v", err)
	}
	engine := health.New(health.Config{})
	sel := selector.New(engine)
	dedupRegistry := dedup.New(time.Minute)
	return New(store, engine, sel, dedupRegistry, doer, nil, nil, nil)
}

type fakeDoer struct {
	calls int
	fn    func(call int, req upstream.Request) (*upstream.Response, error)
}

func (f *fakeDoer) Do(_ context.Context, req upstream.Request) (*upstream.Response, error) {
	f.calls++
	return f.fn(f.calls, req)
}

func bodyResponse(status int, body string) *upstream.Response {
	return &upstream.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestHandle_MalformedJSONReturns400(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDoer{fn: func(int, upstream.Request) (*upstream.Response, error) {
		t.Fatal("upstream should not be called")
		return nil, nil
	}})
	resp, err := o.Handle(context.Background(), Request{Body: []byte("{not json"), Headers: make(http.Header)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandle_NoRouteReturns404(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDoer{fn: func(int, upstream.Request) (*upstream.Response, error) {
		t.Fatal("upstream should not be called")
		return nil, nil
	}})
	body, _ := json.Marshal(map[string]any{"model": "unrouted-model", "messages": []any{}})
	resp, err := o.Handle(context.Background(), Request{Body: body, Headers: make(http.Header)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandle_NonStreamSuccessFromFirstCandidate(t *testing.T) {
	anthResp := `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`
	doer := &fakeDoer{fn: func(call int, req upstream.Request) (*upstream.Response, error) {
		if req.Provider.Name != "primary" {
			t.Fatalf("expected primary provider first, got %q", req.Provider.Name)
		}
		return bodyResponse(http.StatusOK, anthResp), nil
	}}
	o := newTestOrchestrator(t, doer)
	reqBody, _ := json.Marshal(map[string]any{
		"model":    "claude-3-5-sonnet",
		"messages": []any{map[string]any{"role": "user", "content": "hello"}},
	})
	resp, err := o.Handle(context.Background(), Request{Body: reqBody, Headers: make(http.Header)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, resp.Body)
	}
	if doer.calls != 1 {
		t.Fatalf("calls = %d, want 1", doer.calls)
	}
}

func TestHandle_RetriesNextCandidateOnQualifyingFailure(t *testing.T) {
	doer := &fakeDoer{fn: func(call int, req upstream.Request) (*upstream.Response, error) {
		if call == 1 {
			if req.Provider.Name != "primary" {
				t.Fatalf("expected primary first, got %q", req.Provider.Name)
			}
			return bodyResponse(http.StatusServiceUnavailable, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`), nil
		}
		if req.Provider.Name != "secondary" {
			t.Fatalf("expected secondary second, got %q", req.Provider.Name)
		}
		oaiResp := `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`
		return bodyResponse(http.StatusOK, oaiResp), nil
	}}
	o := newTestOrchestrator(t, doer)
	reqBody, _ := json.Marshal(map[string]any{
		"model":    "claude-3-5-sonnet",
		"messages": []any{map[string]any{"role": "user", "content": "hello"}},
	})
	resp, err := o.Handle(context.Background(), Request{Body: reqBody, Headers: make(http.Header)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, resp.Body)
	}
	if doer.calls != 2 {
		t.Fatalf("calls = %d, want 2", doer.calls)
	}
}

func TestHandle_AllCandidatesFailReturns503(t *testing.T) {
	doer := &fakeDoer{fn: func(int, upstream.Request) (*upstream.Response, error) {
		return bodyResponse(http.StatusServiceUnavailable, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`), nil
	}}
	o := newTestOrchestrator(t, doer)
	reqBody, _ := json.Marshal(map[string]any{
		"model":    "claude-3-5-sonnet",
		"messages": []any{map[string]any{"role": "user", "content": "hello"}},
	})
	resp, err := o.Handle(context.Background(), Request{Body: reqBody, Headers: make(http.Header)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, resp.Body)
	}
	if doer.calls != 2 {
		t.Fatalf("calls = %d, want 2 (one per candidate)", doer.calls)
	}
}

func TestHandle_TransportErrorRetriesThenSucceeds(t *testing.T) {
	doer := &fakeDoer{fn: func(call int, req upstream.Request) (*upstream.Response, error) {
		if call == 1 {
			return nil, errors.New("connection reset by peer")
		}
		oaiResp := `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`
		return bodyResponse(http.StatusOK, oaiResp), nil
	}}
	o := newTestOrchestrator(t, doer)
	reqBody, _ := json.Marshal(map[string]any{
		"model":    "claude-3-5-sonnet",
		"messages": []any{map[string]any{"role": "user", "content": "hello"}},
	})
	resp, err := o.Handle(context.Background(), Request{Body: reqBody, Headers: make(http.Header)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandle_DedupSubscriberReceivesOwnerResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	doer := &fakeDoer{fn: func(call int, req upstream.Request) (*upstream.Response, error) {
		started <- struct{}{}
		<-release
		anthResp := `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`
		return bodyResponse(http.StatusOK, anthResp), nil
	}}
	o := newTestOrchestrator(t, doer)
	reqBody, _ := json.Marshal(map[string]any{
		"model":    "claude-3-5-sonnet",
		"messages": []any{map[string]any{"role": "user", "content": "hello"}},
	})

	type result struct {
		resp *Response
		err  error
	}
	ownerCh := make(chan result, 1)
	subCh := make(chan result, 1)

	go func() {
		resp, err := o.Handle(context.Background(), Request{Body: reqBody, Headers: make(http.Header)})
		ownerCh <- result{resp, err}
	}()
	<-started

	go func() {
		resp, err := o.Handle(context.Background(), Request{Body: reqBody, Headers: make(http.Header)})
		subCh <- result{resp, err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	ownerResult := <-ownerCh
	subResult := <-subCh
	if ownerResult.err != nil || subResult.err != nil {
		t.Fatalf("unexpected errors: owner=%v sub=%v", ownerResult.err, subResult.err)
	}
	if ownerResult.resp.StatusCode != http.StatusOK || subResult.resp.StatusCode != http.StatusOK {
		t.Fatalf("status codes = %d, %d, want both 200", ownerResult.resp.StatusCode, subResult.resp.StatusCode)
	}
	if doer.calls != 1 {
		t.Fatalf("calls = %d, want 1 (subscriber shares the owner's call)", doer.calls)
	}
}
