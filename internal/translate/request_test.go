package translate

import (
	"encoding/json"
	"testing"
)

func TestAnthropicToOpenAIRequest_SystemAndMessages(t *testing.T) {
	t.Parallel()
	req := AnthropicRequest{
		Model:     "passthrough",
		MaxTokens: 512,
		System:    json.RawMessage(`"be terse"`),
		Messages: []AnthropicMessage{
			{Role: "user", Content: json.RawMessage(`"hello"`)},
		},
	}

	out, err := AnthropicToOpenAIRequest(req, "gpt-4o", NewToolIDs())
	if err != nil {
		t.Fatal(err)
	}
	if out.Model != "gpt-4o" {
		t.Fatalf("expected model passthrough, got %q", out.Model)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(out.Messages))
	}
	if out.Messages[0].Role != "system" || out.Messages[0].Content != "be terse" {
		t.Fatalf("unexpected system message: %+v", out.Messages[0])
	}
	if out.Messages[1].Role != "user" || out.Messages[1].Content != "hello" {
		t.Fatalf("unexpected user message: %+v", out.Messages[1])
	}
}

func TestAnthropicToOpenAIRequest_ToolUseAndResult(t *testing.T) {
	t.Parallel()
	toolIDs := NewToolIDs()
	assistantContent, _ := json.Marshal([]AnthropicContentBlock{
		{Type: "text", Text: "let me check"},
		{Type: "tool_use", ID: "toolu_abc", Name: "get_weather", Input: json.RawMessage(`{"city":"nyc"}`)},
	})
	userContent, _ := json.Marshal([]AnthropicContentBlock{
		{Type: "tool_result", ToolUseID: "toolu_abc", Content: json.RawMessage(`"sunny"`)},
	})

	req := AnthropicRequest{
		Model:     "passthrough",
		MaxTokens: 128,
		Messages: []AnthropicMessage{
			{Role: "assistant", Content: assistantContent},
			{Role: "user", Content: userContent},
		},
	}

	out, err := AnthropicToOpenAIRequest(req, "gpt-4o", toolIDs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out.Messages))
	}
	assistant := out.Messages[0]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("expected tool call preserved, got %+v", assistant)
	}
	toolMsg := out.Messages[1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "toolu_abc" || toolMsg.Content != "sunny" {
		t.Fatalf("unexpected tool result message: %+v", toolMsg)
	}
}

func TestConvertToolChoice(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
	}{
		{`{"type":"auto"}`, "auto"},
		{`{"type":"any"}`, "auto"},
	}
	for _, c := range cases {
		got := convertToolChoice(json.RawMessage(c.in))
		if got != c.want {
			t.Errorf("convertToolChoice(%s) = %v, want %v", c.in, got, c.want)
		}
	}

	got := convertToolChoice(json.RawMessage(`{"type":"tool","name":"get_weather"}`))
	m, ok := got.(map[string]any)
	if !ok || m["type"] != "function" {
		t.Fatalf("expected function tool_choice, got %+v", got)
	}
}
