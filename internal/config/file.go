package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultTemplate is written when no config file exists yet. Every line is
// commented out so the built-in defaults stay in effect.
const DefaultTemplate = `# codex-chat-bridge configuration
# Command-line flags override values in this file.
#
# host = "127.0.0.1"
# port = 8787
# upstream_wire = "chat"           # "chat" or "responses"
# upstream_url = "https://api.openai.com/v1/chat/completions"
# api_key_env = "OPENAI_API_KEY"
# upstream_timeout_secs = 300
# upstream_stream_only = false
# server_info = "/tmp/codex-chat-bridge-info.json"
# http_shutdown = false
# verbose_logging = false
# drop_tool_types = ["web_search", "web_search_preview"]
# forward_headers = ["openai-organization", "openai-project", "x-openai-subagent", "x-codex-turn-state", "x-codex-turn-metadata"]
# log_file = "/tmp/codex-chat-bridge.log"
# profile = "default"
#
# [headers]
# "X-Custom-Header" = "value"
#
# [profiles.openrouter]
# upstream_url = "https://openrouter.ai/api/v1/chat/completions"
# api_key_env = "OPENROUTER_API_KEY"
# drop_tool_types = ["web_search"]
`

// File is the decoded config file.
type File struct {
	Base     Overrides
	Profile  string
	LogFile  string
	Profiles map[string]Overrides
}

// fileExtras holds the keys that are not part of a profile layer. It is
// decoded in a second pass so Overrides can sit at the document root.
type fileExtras struct {
	Profile  string               `toml:"profile" yaml:"profile"`
	LogFile  string               `toml:"log_file" yaml:"log_file"`
	Profiles map[string]Overrides `toml:"profiles" yaml:"profiles"`
}

// DefaultPath returns ~/.config/codex-chat-bridge/conf.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "codex-chat-bridge", "conf.toml"), nil
}

// ResolvePath picks the explicit path when set, else CODEX_CHAT_BRIDGE_CONFIG,
// else DefaultPath.
func ResolvePath(explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		return p, nil
	}
	if p := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG")); p != "" {
		return p, nil
	}
	return DefaultPath()
}

// EnsureDefaultFile creates path with DefaultTemplate unless it exists.
// It reports whether a file was written.
func EnsureDefaultFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat config %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultTemplate), 0o644); err != nil {
		return false, fmt.Errorf("write default config %s: %w", path, err)
	}
	slog.Info("config.created", "path", path)
	return true, nil
}

// LoadFile reads and decodes path. A missing file yields an empty File.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Parse(data, formatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Format is a config file encoding.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

func formatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatTOML
}

// Parse decodes a config document.
func Parse(data []byte, format Format) (*File, error) {
	unmarshal := toml.Unmarshal
	if format == FormatYAML {
		unmarshal = yaml.Unmarshal
	}

	var base Overrides
	if err := unmarshal(data, &base); err != nil {
		return nil, err
	}
	var extras fileExtras
	if err := unmarshal(data, &extras); err != nil {
		return nil, err
	}
	return &File{
		Base:     base,
		Profile:  strings.TrimSpace(extras.Profile),
		LogFile:  strings.TrimSpace(extras.LogFile),
		Profiles: extras.Profiles,
	}, nil
}
