package config

import (
	"errors"
	"fmt"
	"regexp"
)

// Validate checks the structural validity of a Config. It never mutates cfg.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Providers) == 0 {
		errs = append(errs, errors.New("config: at least one provider must be configured"))
	}

	names := make(map[string]struct{}, len(cfg.Providers))
	for i, p := range cfg.Providers {
		errs = append(errs, validateProvider(i, p)...)
		if p.Name != "" {
			if _, dup := names[p.Name]; dup {
				errs = append(errs, fmt.Errorf("config: providers[%d]: duplicate provider name %q", i, p.Name))
			}
			names[p.Name] = struct{}{}
		}
	}

	errs = append(errs, validateRoutes(cfg, names)...)
	errs = append(errs, validateSettings(cfg.Settings)...)

	return errors.Join(errs...)
}

func validateProvider(i int, p Provider) []error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, fmt.Errorf("config: providers[%d]: name is required", i))
	}
	switch p.Type {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("config: providers[%d] (%s): invalid type %q (want anthropic or openai)", i, p.Name, p.Type))
	}
	if p.BaseURL == "" {
		errs = append(errs, fmt.Errorf("config: providers[%d] (%s): base_url is required", i, p.Name))
	}
	switch p.AuthType {
	case AuthAPIKey, AuthAuthToken, AuthOAuth:
	default:
		errs = append(errs, fmt.Errorf("config: providers[%d] (%s): invalid auth_type %q", i, p.Name, p.AuthType))
	}
	if p.AuthType == AuthOAuth && p.AuthValue != "" && p.AuthValue != OAuthAuthValue {
		errs = append(errs, fmt.Errorf("config: providers[%d] (%s): auth_type oauth requires auth_value %q or empty", i, p.Name, OAuthAuthValue))
	}
	if p.AuthType != AuthOAuth && p.AuthValue == "" {
		errs = append(errs, fmt.Errorf("config: providers[%d] (%s): auth_value is required unless auth_type is oauth", i, p.Name))
	}
	return errs
}

// validateRoutes checks that every route entry references a provider that
// exists. It does not require the provider to be enabled — disabled
// providers are simply dropped at selection time (spec §4.D), not a config
// error.
func validateRoutes(cfg *Config, names map[string]struct{}) []error {
	var errs []error

	if len(cfg.ModelRoutes) == 0 {
		errs = append(errs, errors.New("config: at least one model_routes entry is required"))
	}

	for i, route := range cfg.ModelRoutes {
		if route.Pattern == "" {
			errs = append(errs, fmt.Errorf("config: model_routes[%d]: pattern is required", i))
		}
		if len(route.Entries) == 0 {
			errs = append(errs, fmt.Errorf("config: model_routes[%d] (%s): at least one entry is required", i, route.Pattern))
			continue
		}
		for j, e := range route.Entries {
			if e.Provider == "" {
				errs = append(errs, fmt.Errorf("config: model_routes[%d] (%s)[%d]: provider is required", i, route.Pattern, j))
				continue
			}
			if _, ok := names[e.Provider]; !ok {
				errs = append(errs, fmt.Errorf("config: model_routes[%d] (%s)[%d]: references unknown provider %q", i, route.Pattern, j, e.Provider))
			}
			if e.UpstreamModel == "" {
				errs = append(errs, fmt.Errorf("config: model_routes[%d] (%s)[%d]: upstream_model is required (use %q for passthrough)", i, route.Pattern, j, PassthroughModel))
			}
		}
	}

	return errs
}

func validateSettings(s Settings) []error {
	var errs []error

	switch s.SelectionStrategy {
	case "", StrategyPriority, StrategyRoundRobin, StrategyRandom:
	default:
		errs = append(errs, fmt.Errorf("config: settings.selection_strategy: invalid value %q", s.SelectionStrategy))
	}

	for i, pat := range s.UnhealthyResponseBodyPatterns {
		if _, err := regexp.Compile(pat); err != nil {
			errs = append(errs, fmt.Errorf("config: settings.unhealthy_response_body_patterns[%d]: invalid regex: %w", i, err))
		}
	}

	if s.Auth.Enabled && s.Auth.APIKey == "" {
		errs = append(errs, errors.New("config: settings.auth.enabled is true but auth.api_key is empty"))
	}

	if s.Tracing.Enabled && s.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("config: settings.tracing.enabled is true but tracing.otlp_endpoint is empty"))
	}

	return errs
}
