package upstream

import (
	"net/http"

	"github.com/relaymux/relaymux/internal/config"
)

// AnthropicVersion is sent on every native Anthropic call; matches the
// wire-format version spec.md assumes throughout §4.E.
const AnthropicVersion = "2023-06-01"

// BuildHeaders constructs the outbound request headers for a call to p,
// given the already-resolved credential (an API key, a bearer token, or an
// OAuth access token — resolution itself is the orchestrator's job per
// spec §4.H step 5a).
func BuildHeaders(p config.Provider, credential string, stream bool) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")

	switch p.Type {
	case config.ProviderAnthropic:
		h.Set("anthropic-version", AnthropicVersion)
		switch p.AuthType {
		case config.AuthAuthToken, config.AuthOAuth:
			h.Set("Authorization", "Bearer "+credential)
		default:
			h.Set("x-api-key", credential)
		}
	default: // config.ProviderOpenAI
		h.Set("Authorization", "Bearer "+credential)
	}

	if stream {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	return h
}

// PathFor returns the wire-format-specific endpoint path for a completion
// call to p.
func PathFor(p config.Provider) string {
	if p.Type == config.ProviderAnthropic {
		return "/v1/messages"
	}
	return "/chat/completions"
}
