// Package oauth implements the OAuth Token Manager of spec §4.B: a
// multi-account token store with PKCE authorization-code exchange,
// refresh scheduled ahead of expiry, round-robin issuance, and
// persistence to an OS credential store or an encrypted file.
package oauth

import "time"

// Token is one account's OAuth grant, per spec §3's "OAuth Token" type.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccountEmail string    `json:"account_email"`
	Scopes       []string  `json:"scopes,omitempty"`
	UsageCount   int       `json:"usage_count"`
	LastUsed     time.Time `json:"last_used,omitempty"`

	// Unusable is set once a refresh attempt has failed AND the access
	// token is known-expired (spec §4.B: "only then is the token marked
	// unusable"). An unusable token is excluded from issue_token but
	// still shown by Status until explicitly deleted.
	Unusable bool `json:"unusable,omitempty"`

	// refreshFailedAt records when the single immediate refresh retry
	// failed, so the sweep can defer the next attempt by an hour per
	// spec §4.B ("Retried once immediately; further retries deferred 60
	// minutes").
	RefreshFailedAt time.Time `json:"refresh_failed_at,omitempty"`
}

// expired reports whether the access token itself has passed expires_at.
func (t Token) expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Status is the read-only view returned by GET /oauth/status.
type Status struct {
	AccountEmail     string    `json:"account_email"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
	Healthy          bool      `json:"healthy"`
	UsageCount       int       `json:"usage_count"`
	LastUsed         time.Time `json:"last_used,omitempty"`
	Scopes           []string  `json:"scopes,omitempty"`
}
