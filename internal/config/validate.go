package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// FieldError is a validation failure for a single configuration key.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every FieldError found while resolving a layer.
type ValidationError struct {
	Profile string
	Errors  []FieldError
}

// Add records a failure for field.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any failure was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	prefix := "invalid configuration"
	if e.Profile != "" {
		prefix = fmt.Sprintf("invalid configuration for profile %q", e.Profile)
	}
	return prefix + ": " + strings.Join(parts, "; ")
}

func validate(cfg *Configuration, verr *ValidationError) {
	if cfg.Host == "" {
		verr.Add("host", "must not be empty")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		verr.Add("port", "must be between 0 and 65535")
	}
	if cfg.APIKeyEnv == "" {
		verr.Add("api_key_env", "must not be empty")
	}
	if cfg.UpstreamTimeout < 0 {
		verr.Add("upstream_timeout_secs", "must not be negative")
	}
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		verr.Add("upstream_url", "must be an absolute http(s) URL")
	}
	for name := range cfg.staticHeaders {
		if name == "" || strings.ContainsAny(name, " \t\r\n:") {
			verr.Add("headers", fmt.Sprintf("invalid header name %q", name))
		}
		if http.CanonicalHeaderKey(name) == "Authorization" {
			verr.Add("headers", "authorization is derived from api_key_env and cannot be set statically")
		}
	}
}
