// Package headers computes the header set sent upstream.
package headers

import (
	"net/http"
	"strings"
)

// DefaultForward lists the inbound headers copied upstream when a profile
// does not configure its own list.
var DefaultForward = []string{
	"openai-organization",
	"openai-project",
	"x-openai-subagent",
	"x-codex-turn-state",
	"x-codex-turn-metadata",
}

// never forwarded regardless of configuration; credentials come from the
// profile's api_key_env only.
var blocked = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"Cookie":              {},
	"Host":                {},
	"Content-Length":      {},
}

// Outbound builds the upstream header set: static headers first, then every
// forward name present on the inbound request unless a static header of the
// same name exists. Matching is case-insensitive. A nil forward list selects
// DefaultForward.
func Outbound(static map[string]string, forward []string, inbound http.Header) http.Header {
	out := make(http.Header, len(static)+len(forward))
	for name, value := range static {
		out.Set(name, value)
	}
	if forward == nil {
		forward = DefaultForward
	}
	for _, name := range forward {
		key := http.CanonicalHeaderKey(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, ok := blocked[key]; ok {
			continue
		}
		if _, ok := out[key]; ok {
			continue
		}
		values := inbound.Values(key)
		if len(values) == 0 {
			continue
		}
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}

// ForLog flattens h for logging and adds the authorization header the
// upstream client will send, with the key itself redacted.
func ForLog(h http.Header, apiKey string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	out["authorization"] = "Bearer " + Redact(apiKey)
	return out
}

// Redact hides a secret, distinguishing a missing one.
func Redact(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	return "<redacted>"
}
