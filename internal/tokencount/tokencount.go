// Package tokencount implements POST /v1/messages/count_tokens (spec.md
// leaves this endpoint's internals unspecified). It estimates token usage
// with the cl100k_base encoding over the request's normalized message
// text, tool schemas, and system prompt — an estimate, not an exact
// count, since the real provider-side tokenizer varies per upstream.
package tokencount

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/relaymux/relaymux/internal/translate"
)

// Estimator wraps a loaded tiktoken encoding. Safe for concurrent use —
// the underlying *tiktoken.Tiktoken is immutable once built.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

var (
	defaultOnce      sync.Once
	defaultEstimator *Estimator
	defaultErr       error
)

// NewCL100KBase loads the cl100k_base encoding, the standard-tokenizer
// estimate referenced by spec.md §1.
func NewCL100KBase() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokencount: load cl100k_base encoding: %w", err)
	}
	return &Estimator{enc: enc}, nil
}

// Default returns a process-wide cl100k_base Estimator, built once.
func Default() (*Estimator, error) {
	defaultOnce.Do(func() {
		defaultEstimator, defaultErr = NewCL100KBase()
	})
	return defaultEstimator, defaultErr
}

// Count returns the estimated token length of s.
func (e *Estimator) Count(s string) int {
	if s == "" {
		return 0
	}
	return len(e.enc.Encode(s, nil, nil))
}

// CountRequest estimates the total input token count for an inbound
// /v1/messages/count_tokens body: every message's text content, tool
// schemas (JSON-stringified), and the system prompt. Non-text content
// (images, tool_use/tool_result blocks) contributes its JSON-encoded
// form, since no real tokenizer boundary exists for them here.
func (e *Estimator) CountRequest(req translate.AnthropicRequest) (int, error) {
	var sb strings.Builder

	if len(req.System) > 0 {
		text, err := systemText(req.System)
		if err != nil {
			return 0, fmt.Errorf("tokencount: decode system prompt: %w", err)
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}

	for _, msg := range req.Messages {
		text, err := messageText(msg.Content)
		if err != nil {
			return 0, fmt.Errorf("tokencount: decode message content: %w", err)
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}

	for _, tool := range req.Tools {
		sb.WriteString(tool.Name)
		sb.WriteByte('\n')
		sb.WriteString(tool.Description)
		sb.WriteByte('\n')
		sb.Write(tool.InputSchema)
		sb.WriteByte('\n')
	}

	return e.Count(sb.String()), nil
}

// systemText normalizes the system field, which is either a plain string
// or an array of text blocks (mirroring message content's union shape).
func systemText(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var blocks []translate.AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}
	return blocksText(blocks), nil
}

// messageText normalizes one message's content field: a plain string
// shorthand, or an array of content blocks.
func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var blocks []translate.AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}
	return blocksText(blocks), nil
}

func blocksText(blocks []translate.AnthropicContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		switch b.Type {
		case "text":
			sb.WriteString(b.Text)
			sb.WriteByte('\n')
		case "tool_use":
			sb.WriteString(b.Name)
			sb.WriteByte('\n')
			sb.Write(b.Input)
			sb.WriteByte('\n')
		case "tool_result":
			sb.Write(b.Content)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
