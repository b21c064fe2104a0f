package translate

import (
	"encoding/json"
	"fmt"
)

// AnthropicToOpenAIRequest converts an inbound Anthropic Messages request
// into an OpenAI chat-completions request targeting model. toolIDs resolves
// tool_result blocks' tool_use_id back to the function name that produced
// them (populated by a prior OpenAIResponseToAnthropic/stream call against
// the same conversation); a tool_result whose id is unknown to toolIDs
// falls back to using the id itself as the function name.
//
// Grounded on the teacher's modules/provider/anthropic/convert.go mapping
// table, mirrored onto the OpenAI-bound direction: max_tokens→max_tokens,
// temperature→temperature, top_p→top_p, stop_sequences→stop,
// metadata.user_id→user. top_k has no OpenAI equivalent and is dropped.
func AnthropicToOpenAIRequest(req AnthropicRequest, model string, toolIDs *ToolIDs) (OpenAIRequest, error) {
	out := OpenAIRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}
	if req.Stream {
		out.StreamOptions = &OpenAIStreamOptions{IncludeUsage: true}
	}

	if len(req.System) > 0 {
		systemText, err := systemToText(req.System)
		if err != nil {
			return OpenAIRequest{}, fmt.Errorf("translate: decode system: %w", err)
		}
		if systemText != "" {
			out.Messages = append(out.Messages, OpenAIMessage{Role: "system", Content: systemText})
		}
	}

	for _, m := range req.Messages {
		blocks, err := decodeContent(m.Content)
		if err != nil {
			return OpenAIRequest{}, fmt.Errorf("translate: decode message content: %w", err)
		}
		msgs, err := convertMessage(m.Role, blocks, toolIDs)
		if err != nil {
			return OpenAIRequest{}, err
		}
		out.Messages = append(out.Messages, msgs...)
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]OpenAITool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = OpenAITool{
				Type: "function",
				Function: OpenAIToolDef{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			}
		}
	}

	if len(req.ToolChoice) > 0 {
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	return out, nil
}

// systemToText normalizes the top-level system field, which is either a
// plain string or an array of text blocks, into a single string.
func systemToText(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}
	var out string
	for _, b := range blocks {
		out += b.Text
	}
	return out, nil
}

// convertMessage expands one Anthropic message into zero or more OpenAI
// messages. A user message containing tool_result blocks expands into one
// tool-role message per block (the modern OpenAI dialect); an assistant
// message containing tool_use blocks becomes one assistant message with a
// tool_calls field, per spec §4.E.
func convertMessage(role string, blocks []AnthropicContentBlock, toolIDs *ToolIDs) ([]OpenAIMessage, error) {
	if role == "assistant" {
		return []OpenAIMessage{convertAssistantBlocks(blocks, toolIDs)}, nil
	}

	var out []OpenAIMessage
	var textParts []AnthropicContentBlock
	flushText := func() {
		if len(textParts) == 0 {
			return
		}
		var text string
		for _, b := range textParts {
			text += b.Text
		}
		out = append(out, OpenAIMessage{Role: "user", Content: text})
		textParts = nil
	}

	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			flushText()
			content, err := toolResultText(b.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, OpenAIMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    content,
			})
		case "image":
			flushText()
			out = append(out, OpenAIMessage{Role: "user", Content: "[image content omitted: no cross-representation — " + imageDiagnostic(b) + "]"})
		default:
			textParts = append(textParts, b)
		}
	}
	flushText()
	return out, nil
}

func imageDiagnostic(b AnthropicContentBlock) string {
	if b.Source != nil && b.Source.MediaType != "" {
		return b.Source.MediaType
	}
	return "unknown media type"
}

// toolResultText normalizes a tool_result block's content, which is either
// a plain string or an array of content blocks, into a string.
func toolResultText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}
	var out string
	for _, b := range blocks {
		out += b.Text
	}
	return out, nil
}

// convertAssistantBlocks builds one OpenAI assistant message out of an
// assistant turn's text and tool_use blocks.
func convertAssistantBlocks(blocks []AnthropicContentBlock, toolIDs *ToolIDs) OpenAIMessage {
	msg := OpenAIMessage{Role: "assistant"}
	var text string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "tool_use":
			if toolIDs != nil {
				toolIDs.names[b.ID] = b.Name
			}
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{
				ID:   b.ID,
				Type: "function",
				Function: OpenAIToolFunction{
					Name:      b.Name,
					Arguments: string(args),
				},
			})
		}
	}
	if len(msg.ToolCalls) > 0 {
		msg.Content = nil
	} else {
		msg.Content = text
	}
	return msg
}

// convertToolChoice maps Anthropic's tool_choice shape onto OpenAI's.
// {type:"auto"}→"auto", {type:"any"}→"auto" (no exact OpenAI equivalent),
// {type:"tool", name:X}→{type:"function", function:{name:X}}.
func convertToolChoice(raw json.RawMessage) any {
	var tc struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &tc); err != nil {
		return "auto"
	}
	switch tc.Type {
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		}
	default:
		return "auto"
	}
}
