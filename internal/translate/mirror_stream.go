package translate

import "encoding/json"

// AnthropicToOpenAIStream is the mirror of OpenAIToAnthropicStream: it
// converts a native Anthropic SSE stream (e.g. from a candidate that IS a
// native Anthropic provider) into OpenAI-format chunks. Per spec §4.E the
// orchestrator does not normally need this direction — every client of
// this proxy speaks the Anthropic wire format already — but it exists for
// completeness when an OpenAI-style client is on the other end of the
// proxy. It consumes one already-decoded Anthropic SSE event at a time
// (event name plus its JSON payload), the same shape produced by the
// upstream client's SSE scanner.
type AnthropicToOpenAIStream struct {
	finished    bool
	toolIndex   map[int]int // anthropic content-block index -> openai tool-call index
	nextToolIdx int
}

// NewAnthropicToOpenAIStream creates a translator for one response.
func NewAnthropicToOpenAIStream() *AnthropicToOpenAIStream {
	return &AnthropicToOpenAIStream{toolIndex: make(map[int]int)}
}

// Feed processes one Anthropic SSE event (event name + raw JSON data) and
// returns zero or more OpenAI-format stream chunks.
func (s *AnthropicToOpenAIStream) Feed(event string, data []byte) ([]OpenAIStreamChunk, error) {
	switch event {
	case "content_block_start":
		var ev anthropicBlockStart
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.ContentBlock.Type != "tool_use" {
			return nil, nil
		}
		idx := s.nextToolIdx
		s.nextToolIdx++
		s.toolIndex[ev.Index] = idx
		return []OpenAIStreamChunk{{
			Choices: []OpenAIStreamChoice{{
				Delta: OpenAIStreamDelta{
					ToolCalls: []OpenAIStreamTool{{
						Index:    idx,
						ID:       ev.ContentBlock.ID,
						Type:     "function",
						Function: OpenAIToolFunction{Name: ev.ContentBlock.Name},
					}},
				},
			}},
		}}, nil

	case "content_block_delta":
		var ev struct {
			Index int             `json:"index"`
			Delta json.RawMessage `json:"delta"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		var kind struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(ev.Delta, &kind); err != nil {
			return nil, err
		}
		switch kind.Type {
		case "text_delta":
			var td anthropicTextDelta
			if err := json.Unmarshal(ev.Delta, &td); err != nil {
				return nil, err
			}
			return []OpenAIStreamChunk{{
				Choices: []OpenAIStreamChoice{{Delta: OpenAIStreamDelta{Content: td.Text}}},
			}}, nil
		case "input_json_delta":
			var jd anthropicInputJSONDelta
			if err := json.Unmarshal(ev.Delta, &jd); err != nil {
				return nil, err
			}
			idx, ok := s.toolIndex[ev.Index]
			if !ok {
				return nil, nil
			}
			return []OpenAIStreamChunk{{
				Choices: []OpenAIStreamChoice{{
					Delta: OpenAIStreamDelta{
						ToolCalls: []OpenAIStreamTool{{Index: idx, Function: OpenAIToolFunction{Arguments: jd.PartialJSON}}},
					},
				}},
			}}, nil
		}
		return nil, nil

	case "message_delta":
		var ev anthropicMessageDelta
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		reason := reverseFinishReason(ev.Delta.StopReason)
		return []OpenAIStreamChunk{{
			Choices: []OpenAIStreamChoice{{FinishReason: &reason}},
			Usage:   &OpenAIUsage{CompletionTokens: ev.Usage.OutputTokens},
		}}, nil

	case "message_stop":
		s.finished = true
		return nil, nil

	default:
		return nil, nil
	}
}

// reverseFinishReason maps an Anthropic stop_reason back to an OpenAI
// finish_reason, the inverse of mapFinishReason.
func reverseFinishReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}
