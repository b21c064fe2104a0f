package translate

import "testing"

func TestOpenAIToAnthropicResponse_Text(t *testing.T) {
	t.Parallel()
	resp := OpenAIResponse{
		Choices: []OpenAIChoice{{
			Message:      OpenAIResponseMessage{Role: "assistant", Content: "hi there"},
			FinishReason: "stop",
		}},
		Usage: OpenAIUsage{PromptTokens: 10, CompletionTokens: 3},
	}

	out := OpenAIToAnthropicResponse(resp, "claude-3-5-sonnet", NewToolIDs())
	if len(out.Content) != 1 || out.Content[0].Type != "text" || out.Content[0].Text != "hi there" {
		t.Fatalf("unexpected content: %+v", out.Content)
	}
	if out.StopReason != "end_turn" {
		t.Fatalf("expected end_turn, got %q", out.StopReason)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 3 {
		t.Fatalf("unexpected usage: %+v", out.Usage)
	}
}

func TestOpenAIToAnthropicResponse_ToolCalls(t *testing.T) {
	t.Parallel()
	toolIDs := NewToolIDs()
	resp := OpenAIResponse{
		Choices: []OpenAIChoice{{
			Message: OpenAIResponseMessage{
				Role: "assistant",
				ToolCalls: []OpenAIToolCall{
					{ID: "call_1", Function: OpenAIToolFunction{Name: "get_weather", Arguments: `{"city":"nyc"}`}},
				},
			},
			FinishReason: "tool_calls",
		}},
	}

	out := OpenAIToAnthropicResponse(resp, "claude-3-5-sonnet", toolIDs)
	if len(out.Content) != 1 || out.Content[0].Type != "tool_use" {
		t.Fatalf("expected one tool_use block, got %+v", out.Content)
	}
	if out.StopReason != "tool_use" {
		t.Fatalf("expected tool_use stop reason, got %q", out.StopReason)
	}
	if name, ok := toolIDs.NameFor(out.Content[0].ID); !ok || name != "get_weather" {
		t.Fatalf("expected tool id mapping recorded, got %q ok=%v", name, ok)
	}
}

func TestMapFinishReason(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"stop":           "end_turn",
		"length":         "max_tokens",
		"tool_calls":     "tool_use",
		"function_call":  "tool_use",
		"content_filter": "stop_sequence",
	}
	for in, want := range cases {
		if got := mapFinishReason(in, false); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}
