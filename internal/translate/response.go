package translate

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// OpenAIToAnthropicResponse converts a non-streaming OpenAI chat-completions
// reply into an Anthropic Messages response, minting a fresh toolu_<id> for
// every tool call and remembering it in toolIDs so a later tool_result can
// be mapped back. model is the client-requested model name, echoed back
// per the Anthropic wire contract (upstreams report their own model id).
func OpenAIToAnthropicResponse(resp OpenAIResponse, model string, toolIDs *ToolIDs) AnthropicResponse {
	out := AnthropicResponse{
		ID:    "msg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Type:  "message",
		Role:  "assistant",
		Model: model,
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		out.Content = append(out.Content, AnthropicContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = toolIDs.New(tc.Function.Name)
		} else if toolIDs != nil {
			toolIDs.names[id] = tc.Function.Name
		}
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		out.Content = append(out.Content, AnthropicContentBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  tc.Function.Name,
			Input: args,
		})
	}

	out.StopReason = mapFinishReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0)
	return out
}

// mapFinishReason converts an OpenAI finish_reason into an Anthropic
// stop_reason per spec §4.E: stop→end_turn, length→max_tokens,
// tool_calls/function_call→tool_use, content_filter→stop_sequence.
func mapFinishReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		if hasToolCalls {
			return "tool_use"
		}
		return "end_turn"
	}
}
