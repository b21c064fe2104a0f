package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AnthropicSSEEvent is one `event: <name>\ndata: <json>\n\n` frame, per
// spec §6's outbound SSE contract.
type AnthropicSSEEvent struct {
	Event string
	Data  any
}

// Encode renders e in the Anthropic SSE wire format.
func (e AnthropicSSEEvent) Encode() ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("translate: marshal %s event: %w", e.Event, err)
	}
	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(e.Event)
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

type anthropicMessageStart struct {
	Type    string                `json:"type"`
	Message anthropicStartMessage `json:"message"`
}

type anthropicStartMessage struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Role  string         `json:"role"`
	Model string         `json:"model"`
	Usage AnthropicUsage `json:"usage"`
}

type anthropicBlockStart struct {
	Type         string                `json:"type"`
	Index        int                   `json:"index"`
	ContentBlock AnthropicContentBlock `json:"content_block"`
}

type anthropicBlockDelta struct {
	Type  string      `json:"type"`
	Index int         `json:"index"`
	Delta interface{} `json:"delta"`
}

type anthropicTextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicInputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type anthropicBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type anthropicMessageDelta struct {
	Type  string                    `json:"type"`
	Delta anthropicMessageDeltaBody `json:"delta"`
	Usage anthropicDeltaUsage       `json:"usage"`
}

type anthropicMessageDeltaBody struct {
	StopReason string `json:"stop_reason"`
}

type anthropicDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

type anthropicMessageStop struct {
	Type string `json:"type"`
}

// blockKind tracks which kind of content block (if any) is currently open.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// pendingTool accumulates one tool call's id/name/arguments across
// fragments, mirroring the teacher's toolBuffer in
// modules/provider/anthropic/stream.go, adapted to key by the OpenAI
// streaming tool-call index instead of an Anthropic content-block index.
type pendingTool struct {
	id        string
	name      string
	oaiIndex  int
	haveStart bool
}

// OpenAIToAnthropicStream is the "hard" direction of spec §4.E: it
// consumes an upstream's OpenAI-format SSE chunks one line at a time and
// emits the Anthropic SSE event sequence (message_start, content_block_*,
// message_delta, message_stop). It is fed synchronously by whatever owns
// the upstream response body (the orchestrator for unary reads, the
// broadcaster's single reader goroutine for streams) — it owns no
// goroutine or channel of its own.
type OpenAIToAnthropicStream struct {
	model       string
	toolIDs     *ToolIDs
	countTokens func(string) int

	started    bool
	finished   bool
	openBlock  blockKind
	nextIndex  int
	textIndex  int
	textChars  strings.Builder
	toolIndex  int
	activeTool *pendingTool
	toolByOAI  map[int]*pendingTool
	lastUsage  *OpenAIUsage
}

// NewOpenAIToAnthropicStream creates a translator for one response. model
// is the client-requested model name (echoed in message_start per the wire
// contract — upstreams report their own). countTokens estimates output
// tokens over translated text content when the upstream provides no usage
// block of its own; if nil, a simple heuristic is used.
func NewOpenAIToAnthropicStream(model string, toolIDs *ToolIDs, countTokens func(string) int) *OpenAIToAnthropicStream {
	if toolIDs == nil {
		toolIDs = NewToolIDs()
	}
	if countTokens == nil {
		countTokens = estimateTokens
	}
	return &OpenAIToAnthropicStream{
		model:       model,
		toolIDs:     toolIDs,
		countTokens: countTokens,
		toolByOAI:   make(map[int]*pendingTool),
	}
}

// estimateTokens is a rough fallback token estimate (~4 chars/token),
// used only when no real tokenizer is wired in.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Feed processes one raw SSE line from the upstream (as produced by a
// bufio.Scanner over the response body) and returns zero or more
// Anthropic SSE events ready to encode and write to the client.
func (s *OpenAIToAnthropicStream) Feed(line []byte) ([]AnthropicSSEEvent, error) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil, nil
	}
	trimmed = strings.TrimPrefix(trimmed, "data: ")
	trimmed = strings.TrimPrefix(trimmed, "data:")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return nil, nil
	}
	if trimmed == "[DONE]" {
		return s.Finish(), nil
	}

	var chunk OpenAIStreamChunk
	if err := json.Unmarshal([]byte(trimmed), &chunk); err != nil {
		return nil, fmt.Errorf("translate: decode stream chunk: %w", err)
	}
	return s.consume(chunk), nil
}

func (s *OpenAIToAnthropicStream) consume(chunk OpenAIStreamChunk) []AnthropicSSEEvent {
	var events []AnthropicSSEEvent
	events = append(events, s.ensureStarted()...)

	if chunk.Usage != nil {
		s.lastUsage = chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		events = append(events, s.emitText(choice.Delta.Content)...)
	}
	for _, tc := range choice.Delta.ToolCalls {
		events = append(events, s.emitToolFragment(tc)...)
	}

	if choice.FinishReason != nil {
		events = append(events, s.closeOpenBlock()...)
		events = append(events, s.emitMessageDelta(*choice.FinishReason))
		events = append(events, AnthropicSSEEvent{Event: "message_stop", Data: anthropicMessageStop{Type: "message_stop"}})
		s.finished = true
	}
	return events
}

func (s *OpenAIToAnthropicStream) ensureStarted() []AnthropicSSEEvent {
	if s.started {
		return nil
	}
	s.started = true
	return []AnthropicSSEEvent{{
		Event: "message_start",
		Data: anthropicMessageStart{
			Type: "message_start",
			Message: anthropicStartMessage{
				ID:    "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
				Type:  "message",
				Role:  "assistant",
				Model: s.model,
			},
		},
	}}
}

func (s *OpenAIToAnthropicStream) emitText(text string) []AnthropicSSEEvent {
	var events []AnthropicSSEEvent
	if s.openBlock == blockTool {
		events = append(events, s.closeOpenBlock()...)
	}
	if s.openBlock != blockText {
		s.textIndex = s.nextIndex
		s.nextIndex++
		s.openBlock = blockText
		events = append(events, AnthropicSSEEvent{
			Event: "content_block_start",
			Data: anthropicBlockStart{
				Type:         "content_block_start",
				Index:        s.textIndex,
				ContentBlock: AnthropicContentBlock{Type: "text"},
			},
		})
	}
	s.textChars.WriteString(text)
	events = append(events, AnthropicSSEEvent{
		Event: "content_block_delta",
		Data: anthropicBlockDelta{
			Type:  "content_block_delta",
			Index: s.textIndex,
			Delta: anthropicTextDelta{Type: "text_delta", Text: text},
		},
	})
	return events
}

func (s *OpenAIToAnthropicStream) emitToolFragment(tc OpenAIStreamTool) []AnthropicSSEEvent {
	var events []AnthropicSSEEvent

	pt, known := s.toolByOAI[tc.Index]
	if !known {
		if s.openBlock != blockNone {
			events = append(events, s.closeOpenBlock()...)
		}
		index := s.nextIndex
		s.nextIndex++
		id := tc.ID
		if id == "" {
			id = s.toolIDs.New(tc.Function.Name)
		} else {
			s.toolIDs.names[id] = tc.Function.Name
		}
		pt = &pendingTool{id: id, name: tc.Function.Name, oaiIndex: index}
		s.toolByOAI[tc.Index] = pt
		s.activeTool = pt
		s.openBlock = blockTool
		events = append(events, AnthropicSSEEvent{
			Event: "content_block_start",
			Data: anthropicBlockStart{
				Type:  "content_block_start",
				Index: index,
				ContentBlock: AnthropicContentBlock{
					Type: "tool_use",
					ID:   id,
					Name: tc.Function.Name,
				},
			},
		})
	} else if s.activeTool != pt {
		if s.openBlock != blockNone {
			events = append(events, s.closeOpenBlock()...)
		}
		s.activeTool = pt
		s.openBlock = blockTool
	}

	if tc.Function.Arguments != "" {
		events = append(events, AnthropicSSEEvent{
			Event: "content_block_delta",
			Data: anthropicBlockDelta{
				Type:  "content_block_delta",
				Index: pt.oaiIndex,
				Delta: anthropicInputJSONDelta{Type: "input_json_delta", PartialJSON: tc.Function.Arguments},
			},
		})
	}
	return events
}

func (s *OpenAIToAnthropicStream) closeOpenBlock() []AnthropicSSEEvent {
	if s.openBlock == blockNone {
		return nil
	}
	var index int
	switch s.openBlock {
	case blockText:
		index = s.textIndex
	case blockTool:
		index = s.activeTool.oaiIndex
		s.activeTool = nil
	}
	s.openBlock = blockNone
	return []AnthropicSSEEvent{{
		Event: "content_block_stop",
		Data:  anthropicBlockStop{Type: "content_block_stop", Index: index},
	}}
}

func (s *OpenAIToAnthropicStream) emitMessageDelta(finishReason string) AnthropicSSEEvent {
	hasTools := len(s.toolByOAI) > 0
	outputTokens := s.countTokens(s.textChars.String())
	if s.lastUsage != nil && s.lastUsage.CompletionTokens > 0 {
		outputTokens = s.lastUsage.CompletionTokens
	}
	return AnthropicSSEEvent{
		Event: "message_delta",
		Data: anthropicMessageDelta{
			Type:  "message_delta",
			Delta: anthropicMessageDeltaBody{StopReason: mapFinishReason(finishReason, hasTools)},
			Usage: anthropicDeltaUsage{OutputTokens: outputTokens},
		},
	}
}

// Finish closes out the stream when the upstream signals [DONE] without a
// prior finish_reason (some OpenAI-compatible servers omit it). It is a
// no-op if the stream already finished normally.
func (s *OpenAIToAnthropicStream) Finish() []AnthropicSSEEvent {
	if s.finished {
		return nil
	}
	var events []AnthropicSSEEvent
	events = append(events, s.ensureStarted()...)
	events = append(events, s.closeOpenBlock()...)
	events = append(events, s.emitMessageDelta("stop"))
	events = append(events, AnthropicSSEEvent{Event: "message_stop", Data: anthropicMessageStop{Type: "message_stop"}})
	s.finished = true
	return events
}
