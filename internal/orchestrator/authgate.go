package orchestrator

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/relaymux/relaymux/internal/config"
)

// ErrUnauthorized is returned by CheckAuthGate on a missing or mismatched
// credential.
var ErrUnauthorized = errors.New("orchestrator: missing or invalid credentials")

// CheckAuthGate implements spec §4.I: a simple inbound filter checking
// x-api-key then Authorization: Bearer against the configured key, with
// exempt paths bypassing the check entirely. Constant-time comparison
// mirrors the teacher's gateway/auth.go convention.
func CheckAuthGate(headers http.Header, path string, settings config.AuthSettings) error {
	if !settings.Enabled {
		return nil
	}
	if slices.Contains(settings.ExemptPaths, path) {
		return nil
	}

	if key := headers.Get("x-api-key"); key != "" {
		if constantTimeEqual(key, settings.APIKey) {
			return nil
		}
		return ErrUnauthorized
	}
	if auth := headers.Get("Authorization"); auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if constantTimeEqual(token, settings.APIKey) {
			return nil
		}
		return ErrUnauthorized
	}
	return ErrUnauthorized
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
