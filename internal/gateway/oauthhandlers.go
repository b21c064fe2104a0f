package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaymux/relaymux/internal/oauth"
	"github.com/relaymux/relaymux/internal/security"
)

// handleOAuthStatus implements GET /oauth/status: the token inventory
// from the OAuth Manager.
func (g *Gateway) handleOAuthStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.oauthMgr == nil {
			writeJSON(w, http.StatusOK, []oauth.Status{})
			return
		}
		writeJSON(w, http.StatusOK, g.oauthMgr.Status())
	}
}

type exchangeCodeRequest struct {
	Code         string `json:"code"`
	AccountEmail string `json:"account_email"`
}

// handleOAuthExchangeCode implements POST /oauth/exchange-code: completes
// the PKCE exchange and stores the resulting token.
func (g *Gateway) handleOAuthExchangeCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.oauthMgr == nil {
			writeError(w, http.StatusNotFound, "not_found_error", "oauth is not configured")
			return
		}
		var req exchangeCodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON body")
			return
		}
		if err := g.oauthMgr.ExchangeCode(r.Context(), req.AccountEmail, req.Code); err != nil {
			g.emitAuditEvent(security.EventOAuthExchange, "exchange failed: "+err.Error())
			writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		g.emitAuditEvent(security.EventOAuthExchange, "exchange succeeded for "+req.AccountEmail)
		w.WriteHeader(http.StatusOK)
	}
}

type refreshTokenRequest struct {
	AccountEmail string `json:"account_email,omitempty"`
}

// handleOAuthRefreshToken implements POST /oauth/refresh-token: forces a
// refresh for one account, or every account if account_email is omitted.
func (g *Gateway) handleOAuthRefreshToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.oauthMgr == nil {
			writeError(w, http.StatusNotFound, "not_found_error", "oauth is not configured")
			return
		}
		var req refreshTokenRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON body")
				return
			}
		}

		accounts := []string{req.AccountEmail}
		if req.AccountEmail == "" {
			statuses := g.oauthMgr.Status()
			accounts = accounts[:0]
			for _, s := range statuses {
				accounts = append(accounts, s.AccountEmail)
			}
		}

		for _, email := range accounts {
			if err := g.oauthMgr.Refresh(r.Context(), email); err != nil {
				g.emitAuditEvent(security.EventOAuthRefresh, "refresh failed for "+email+": "+err.Error())
				writeError(w, http.StatusBadGateway, "api_error", err.Error())
				return
			}
			g.emitAuditEvent(security.EventOAuthRefresh, "refresh succeeded for "+email)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// handleOAuthDeleteToken implements DELETE /oauth/tokens/{email}.
func (g *Gateway) handleOAuthDeleteToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.oauthMgr == nil {
			writeError(w, http.StatusNotFound, "not_found_error", "oauth is not configured")
			return
		}
		email := chi.URLParam(r, "email")
		if err := g.oauthMgr.Delete(email); err != nil {
			if errors.Is(err, oauth.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found_error", "no token for that account")
				return
			}
			writeError(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// handleOAuthClearTokens implements DELETE /oauth/tokens.
func (g *Gateway) handleOAuthClearTokens() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.oauthMgr == nil {
			writeError(w, http.StatusNotFound, "not_found_error", "oauth is not configured")
			return
		}
		if err := g.oauthMgr.Clear(); err != nil {
			writeError(w, http.StatusInternalServerError, "api_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(jsonError(errType, message))
}
