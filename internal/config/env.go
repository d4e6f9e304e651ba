package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "CODEX_CHAT_BRIDGE_"

// FromEnv builds the environment layer from CODEX_CHAT_BRIDGE_* variables.
// Unset variables leave the corresponding field nil.
func FromEnv() Overrides {
	var o Overrides
	if v, ok := envString("HOST"); ok {
		o.Host = &v
	}
	if v, ok := envInt("PORT"); ok {
		o.Port = &v
	}
	if v, ok := envString("UPSTREAM_URL"); ok {
		o.UpstreamURL = &v
	}
	if v, ok := envString("UPSTREAM_WIRE"); ok {
		o.UpstreamWire = &v
	}
	if v, ok := envString("API_KEY_ENV"); ok {
		o.APIKeyEnv = &v
	}
	if v, ok := envInt("UPSTREAM_TIMEOUT_SECS"); ok {
		o.UpstreamTimeoutSecs = &v
	}
	if v, ok := envString("UPSTREAM_STREAM_ONLY"); ok {
		o.UpstreamStreamOnly = ptr(parseBool(v))
	}
	if v, ok := envString("DROP_TOOL_TYPES"); ok {
		o.DropToolTypes = splitList(v)
	}
	if v, ok := envString("FORWARD_HEADERS"); ok {
		o.ForwardHeaders = splitList(v)
	}
	if v, ok := envString("SERVER_INFO"); ok {
		o.ServerInfo = &v
	}
	if v, ok := envString("HTTP_SHUTDOWN"); ok {
		o.HTTPShutdown = ptr(parseBool(v))
	}
	if v, ok := envString("VERBOSE"); ok {
		o.Verbose = ptr(parseBool(v))
	}
	return o
}

// ProfileFromEnv returns CODEX_CHAT_BRIDGE_PROFILE.
func ProfileFromEnv() string {
	v, _ := envString("PROFILE")
	return v
}

func envString(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func envInt(key string) (int, bool) {
	v, ok := envString(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric environment value", "key", envPrefix+key, "value", v)
		return 0, false
	}
	return n, true
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
