package gateway

import (
	"errors"
	"net/http"

	"github.com/relaymux/relaymux/internal/orchestrator"
	"github.com/relaymux/relaymux/internal/security"
)

// authMiddleware implements spec §4.I's Auth Gate: CheckAuthGate decides
// whether the request's x-api-key/Bearer credential matches, honoring
// the configured exempt-paths bypass. Ahead of that check, an
// AttemptLimiter keyed by remote address throttles repeated bad
// credentials (login-attempt throttling, not per-client traffic rate
// limiting) and every outcome is recorded to the audit log.
func (g *Gateway) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.attemptLimiter != nil && g.authSettings.Enabled {
				if err := g.attemptLimiter.Allow(remoteKey(r)); err != nil {
					g.emitAuthEvent(security.EventRateLimit, r, "too many auth attempts")
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
			}

			if err := orchestrator.CheckAuthGate(r.Header, r.URL.Path, g.authSettings); err != nil {
				if errors.Is(err, orchestrator.ErrUnauthorized) {
					g.emitAuthEvent(security.EventAuthFailure, r, "missing or invalid credentials")
					writeAuthError(w)
					return
				}
				g.emitAuthEvent(security.EventAuthFailure, r, err.Error())
				writeAuthError(w)
				return
			}

			if g.authSettings.Enabled {
				g.emitAuthEvent(security.EventAuthSuccess, r, "")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(jsonError("authentication_error", "missing or invalid credentials"))
}

// emitAuthEvent logs an auth event to the audit logger if one is configured.
func (g *Gateway) emitAuthEvent(eventType security.EventType, r *http.Request, detail string) {
	if g.auditLogger == nil {
		return
	}
	g.auditLogger.Log(security.AuditEvent{
		Type:   eventType,
		Detail: detail,
		Metadata: map[string]string{
			"remote_addr": r.RemoteAddr,
			"method":      r.Method,
			"path":        r.URL.Path,
		},
	})
}

// remoteKey returns the attempt-limiter bucket key for a request: the
// remote address without the ephemeral port, falling back to the raw
// RemoteAddr if it isn't in host:port form.
func remoteKey(r *http.Request) string {
	host := r.RemoteAddr
	if i := lastColon(host); i >= 0 {
		return host[:i]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
