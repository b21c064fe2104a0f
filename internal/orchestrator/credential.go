package orchestrator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/relaymux/relaymux/internal/config"
)

// resolveCredential implements spec §4.H step 5a: resolve an API key, a
// bearer token, or the next OAuth token for a candidate provider.
func (o *Orchestrator) resolveCredential(p config.Provider, headers http.Header) (string, error) {
	if p.AuthType == config.AuthOAuth {
		if o.OAuth == nil {
			return "", fmt.Errorf("orchestrator: provider %q is configured for oauth but no OAuth Manager is wired", p.Name)
		}
		token, _, err := o.OAuth.IssueToken()
		if err != nil {
			return "", fmt.Errorf("orchestrator: issue oauth token for %q: %w", p.Name, err)
		}
		return token, nil
	}

	if p.AuthValue == config.PassthroughAuthValue {
		return passthroughCredential(headers)
	}
	return p.AuthValue, nil
}

// passthroughCredential implements the auth_value: "passthrough" sentinel
// (spec §3): the credential comes from the inbound client request rather
// than config.
func passthroughCredential(headers http.Header) (string, error) {
	if v := headers.Get("x-api-key"); v != "" {
		return v, nil
	}
	if auth := headers.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer "), nil
	}
	return "", fmt.Errorf("orchestrator: passthrough auth requires an inbound x-api-key or Authorization header")
}
