// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for relaymux.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Providers lists every upstream the pool may select from.
	Providers []Provider `yaml:"providers"`

	// ModelRoutes is an ordered list of glob-pattern routes. Order is
	// significant: per spec §4.D step 1, the selector uses the FIRST
	// pattern that matches the requested model, so this must be a YAML
	// sequence (not a mapping) to preserve declaration order.
	ModelRoutes []ModelRoute `yaml:"model_routes"`

	// Settings holds the global tunables described in spec §4.A.
	Settings Settings `yaml:"settings"`
}

// ProviderType identifies the wire dialect an upstream speaks.
type ProviderType string

// Recognized provider types.
const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
)

// AuthType identifies how a provider's credential is resolved.
type AuthType string

// Recognized auth types.
const (
	AuthAPIKey    AuthType = "api_key"
	AuthAuthToken AuthType = "auth_token"
	AuthOAuth     AuthType = "oauth"
)

// PassthroughAuthValue is the sentinel auth_value meaning "take the
// credential from the inbound client request instead of config".
const PassthroughAuthValue = "passthrough"

// OAuthAuthValue is the sentinel auth_value meaning "ask the OAuth Manager
// for the next round-robin token".
const OAuthAuthValue = "oauth"

// Provider is the immutable identity of one upstream. Mutable health state
// lives outside this struct, in internal/health.
type Provider struct {
	Name      string       `yaml:"name"`
	Type      ProviderType `yaml:"type"`
	BaseURL   string       `yaml:"base_url"`
	AuthType  AuthType     `yaml:"auth_type"`
	AuthValue string       `yaml:"auth_value"`
	HTTPProxy string       `yaml:"http_proxy,omitempty"`
	Enabled   *bool        `yaml:"enabled,omitempty"`
}

// IsEnabled reports the effective enabled state; absent means enabled.
func (p Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ModelRoute binds a glob pattern (matched against the client-requested
// model name, e.g. "claude-3-5-*") to its ordered candidate entries.
type ModelRoute struct {
	Pattern string       `yaml:"pattern"`
	Entries []RouteEntry `yaml:"entries"`
}

// RouteEntry is one candidate within a model route's ordered entry list.
type RouteEntry struct {
	Provider      string `yaml:"provider"`
	UpstreamModel string `yaml:"upstream_model"`
	Priority      int    `yaml:"priority"`
}

// PassthroughModel is the sentinel upstream_model meaning "forward the
// client's original model string unchanged".
const PassthroughModel = "passthrough"

// SelectionStrategy controls how same-priority candidates are ordered.
type SelectionStrategy string

// Recognized selection strategies.
const (
	StrategyPriority   SelectionStrategy = "priority"
	StrategyRoundRobin SelectionStrategy = "round_robin"
	StrategyRandom     SelectionStrategy = "random"
)

// Settings holds the process-wide tunables enumerated in spec §4.A.
type Settings struct {
	SelectionStrategy             SelectionStrategy `yaml:"selection_strategy,omitempty"`
	FailureCooldownSeconds        int               `yaml:"failure_cooldown,omitempty"`
	StickyProviderSeconds         int               `yaml:"sticky_provider_duration,omitempty"`
	UnhealthyThreshold            int               `yaml:"unhealthy_threshold,omitempty"`
	UnhealthyErrorTypes           []string          `yaml:"unhealthy_error_types,omitempty"`
	UnhealthyHTTPCodes            []int             `yaml:"unhealthy_http_codes,omitempty"`
	UnhealthyResponseBodyPatterns []string          `yaml:"unhealthy_response_body_patterns,omitempty"`
	RequestTimeoutSeconds         int               `yaml:"request_timeout,omitempty"`
	StreamingTotalTimeoutSeconds  int               `yaml:"streaming_total_timeout,omitempty"`
	StreamingIdleTimeoutSeconds   int               `yaml:"streaming_idle_timeout,omitempty"`
	DeduplicationEnabled          *bool             `yaml:"deduplication_enabled,omitempty"`
	DeduplicationTTLSeconds       int               `yaml:"deduplication_ttl,omitempty"`
	Auth                          AuthSettings      `yaml:"auth,omitempty"`
	OAuth                         OAuthSettings     `yaml:"oauth,omitempty"`
	Tracing                       TracingSettings   `yaml:"tracing,omitempty"`
}

// TracingSettings configures the optional OpenTelemetry span export
// described in spec §4.H's ambient observability note. Tracing is a
// pure add-on: when Enabled is false (the default), every span
// collector call becomes a no-op and nothing is sent anywhere.
type TracingSettings struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name,omitempty"`
	Endpoint    string  `yaml:"otlp_endpoint,omitempty"`
	Insecure    bool    `yaml:"insecure,omitempty"`
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`
}

// ServiceNameOrDefault returns the configured service name, or a
// sensible default for the OTLP resource attribute.
func (s TracingSettings) ServiceNameOrDefault() string {
	if s.ServiceName != "" {
		return s.ServiceName
	}
	return "relaymux"
}

// SampleRatioOrDefault returns the configured sampling ratio, or 1.0
// (sample everything), matching the teacher's always-sample default
// for a disabled-by-default feature.
func (s TracingSettings) SampleRatioOrDefault() float64 {
	if s.SampleRatio > 0 {
		return s.SampleRatio
	}
	return 1.0
}

// OAuthSettings configures the OAuth Manager's authorization-code/PKCE
// exchange and token persistence, per spec §4.B / §9. One app
// registration serves every account onboarded through it.
type OAuthSettings struct {
	ClientID        string   `yaml:"client_id,omitempty"`
	ClientSecret    string   `yaml:"client_secret,omitempty"`
	AuthURL         string   `yaml:"authorize_url,omitempty"`
	TokenURL        string   `yaml:"token_url,omitempty"`
	RedirectURL     string   `yaml:"redirect_url,omitempty"`
	Scopes          []string `yaml:"scopes,omitempty"`
	KeyringService  string   `yaml:"keyring_service,omitempty"`
	EncryptedFile   string   `yaml:"encrypted_file_path,omitempty"`
	RefreshLeadSecs int      `yaml:"refresh_lead_seconds,omitempty"`
}

// DefaultOAuthRefreshLead is how far ahead of expires_at a token is
// refreshed, per spec §4.B / §9 ("refreshed ≥ 5 minutes before
// expires_at").
const DefaultOAuthRefreshLead = 5 * time.Minute

// RefreshLead returns the configured refresh lead time, or the default.
func (s OAuthSettings) RefreshLead() time.Duration {
	if s.RefreshLeadSecs > 0 {
		return time.Duration(s.RefreshLeadSecs) * time.Second
	}
	return DefaultOAuthRefreshLead
}

// KeyringServiceOrDefault returns the configured keyring service name, or
// a sensible default.
func (s OAuthSettings) KeyringServiceOrDefault() string {
	if s.KeyringService != "" {
		return s.KeyringService
	}
	return "relaymux-oauth"
}

// AuthSettings configures the inbound Auth Gate (spec §4.I).
type AuthSettings struct {
	Enabled     bool     `yaml:"enabled"`
	APIKey      string   `yaml:"api_key"`
	ExemptPaths []string `yaml:"exempt_paths,omitempty"`
}

// Defaults matching spec §4.A.
const (
	DefaultFailureCooldown  = 180 * time.Second
	DefaultStickyDuration   = 300 * time.Second
	DefaultUnhealthyThresh  = 2
	DefaultDeduplicationTTL = 60 * time.Second
)

// DefaultUnhealthyHTTPCodes is the union of codes called out in spec §4.C.
var DefaultUnhealthyHTTPCodes = []int{402, 404, 408, 429, 500, 502, 503, 504, 520, 521, 522, 523, 524}

// FailureCooldown returns the configured cooldown, or the default.
func (s Settings) FailureCooldown() time.Duration {
	if s.FailureCooldownSeconds > 0 {
		return time.Duration(s.FailureCooldownSeconds) * time.Second
	}
	return DefaultFailureCooldown
}

// StickyDuration returns the configured sticky-pointer window, or the default.
func (s Settings) StickyDuration() time.Duration {
	if s.StickyProviderSeconds > 0 {
		return time.Duration(s.StickyProviderSeconds) * time.Second
	}
	return DefaultStickyDuration
}

// UnhealthyThresholdOrDefault returns the configured threshold, or the default.
func (s Settings) UnhealthyThresholdOrDefault() int {
	if s.UnhealthyThreshold > 0 {
		return s.UnhealthyThreshold
	}
	return DefaultUnhealthyThresh
}

// UnhealthyHTTPCodesOrDefault returns the configured code list, or the default union.
func (s Settings) UnhealthyHTTPCodesOrDefault() []int {
	if len(s.UnhealthyHTTPCodes) > 0 {
		return s.UnhealthyHTTPCodes
	}
	return DefaultUnhealthyHTTPCodes
}

// DeduplicationTTL returns the configured TTL, or the default.
func (s Settings) DeduplicationTTL() time.Duration {
	if s.DeduplicationTTLSeconds > 0 {
		return time.Duration(s.DeduplicationTTLSeconds) * time.Second
	}
	return DefaultDeduplicationTTL
}

// DeduplicationEnabledOrDefault reports whether dedup is on; default true.
func (s Settings) DeduplicationEnabledOrDefault() bool {
	return s.DeduplicationEnabled == nil || *s.DeduplicationEnabled
}

// StrategyOrDefault returns the configured selection strategy, or priority.
func (s Settings) StrategyOrDefault() SelectionStrategy {
	if s.SelectionStrategy != "" {
		return s.SelectionStrategy
	}
	return StrategyPriority
}
