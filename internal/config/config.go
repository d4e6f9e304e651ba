package config

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Wire identifies one of the two HTTP wire protocols the bridge speaks.
type Wire string

const (
	WireChat      Wire = "chat"
	WireResponses Wire = "responses"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultAPIKeyEnv       = "OPENAI_API_KEY"
	DefaultChatURL         = "https://api.openai.com/v1/chat/completions"
	DefaultResponsesURL    = "https://api.openai.com/v1/responses"
	DefaultUpstreamTimeout = 5 * time.Minute
)

// ParseWire parses a wire name. The empty string maps to WireChat.
func ParseWire(s string) (Wire, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chat":
		return WireChat, true
	case "responses":
		return WireResponses, true
	}
	return "", false
}

// DefaultUpstreamURL returns the OpenAI endpoint for the given wire.
func DefaultUpstreamURL(w Wire) string {
	if w == WireResponses {
		return DefaultResponsesURL
	}
	return DefaultChatURL
}

// Configuration is the resolved settings of one profile. Values are built
// whole by Resolve and must not be modified afterwards; map and slice
// accessors return copies.
type Configuration struct {
	Host               string
	Port               int
	APIKeyEnv          string
	UpstreamURL        string
	UpstreamWire       Wire
	UpstreamTimeout    time.Duration
	UpstreamStreamOnly bool
	ServerInfoPath     string
	HTTPShutdown       bool
	Verbose            bool

	staticHeaders  map[string]string
	forwardHeaders []string
	dropToolTypes  []string
}

// StaticHeaders returns the headers sent on every upstream request.
func (c *Configuration) StaticHeaders() map[string]string {
	return maps.Clone(c.staticHeaders)
}

// ForwardHeaders returns the inbound header names copied upstream. A nil
// result means the default forward list applies.
func (c *Configuration) ForwardHeaders() []string {
	return slices.Clone(c.forwardHeaders)
}

// DropToolTypes returns the tool types stripped from requests.
func (c *Configuration) DropToolTypes() []string {
	return slices.Clone(c.dropToolTypes)
}

// DropsToolType reports whether tools of the given type are filtered out.
func (c *Configuration) DropsToolType(t string) bool {
	return slices.Contains(c.dropToolTypes, t)
}

// Summary is the client-visible view of a Configuration. Static header
// values are omitted since they commonly carry credentials.
type Summary struct {
	Host               string   `json:"host"`
	Port               int      `json:"port"`
	UpstreamURL        string   `json:"upstream_url"`
	UpstreamWire       Wire     `json:"upstream_wire"`
	UpstreamStreamOnly bool     `json:"upstream_stream_only"`
	UpstreamTimeout    string   `json:"upstream_timeout"`
	APIKeyEnv          string   `json:"api_key_env"`
	StaticHeaderNames  []string `json:"static_header_names"`
	ForwardHeaders     []string `json:"forward_headers,omitempty"`
	DropToolTypes      []string `json:"drop_tool_types"`
	HTTPShutdown       bool     `json:"http_shutdown"`
	Verbose            bool     `json:"verbose_logging"`
}

// Summary returns the client-visible view of c.
func (c *Configuration) Summary() Summary {
	names := slices.Sorted(maps.Keys(c.staticHeaders))
	if names == nil {
		names = []string{}
	}
	drop := c.DropToolTypes()
	if drop == nil {
		drop = []string{}
	}
	return Summary{
		Host:               c.Host,
		Port:               c.Port,
		UpstreamURL:        c.UpstreamURL,
		UpstreamWire:       c.UpstreamWire,
		UpstreamStreamOnly: c.UpstreamStreamOnly,
		UpstreamTimeout:    c.UpstreamTimeout.String(),
		APIKeyEnv:          c.APIKeyEnv,
		StaticHeaderNames:  names,
		ForwardHeaders:     c.ForwardHeaders(),
		DropToolTypes:      drop,
		HTTPShutdown:       c.HTTPShutdown,
		Verbose:            c.Verbose,
	}
}

// Overrides is one layer of configuration. Nil fields inherit from the layer
// below. The same shape is used for the file root, every profile table, the
// environment and command-line flags.
type Overrides struct {
	Host                *string           `toml:"host" yaml:"host"`
	Port                *int              `toml:"port" yaml:"port"`
	UpstreamURL         *string           `toml:"upstream_url" yaml:"upstream_url"`
	UpstreamWire        *string           `toml:"upstream_wire" yaml:"upstream_wire"`
	APIKeyEnv           *string           `toml:"api_key_env" yaml:"api_key_env"`
	UpstreamTimeoutSecs *int              `toml:"upstream_timeout_secs" yaml:"upstream_timeout_secs"`
	UpstreamStreamOnly  *bool             `toml:"upstream_stream_only" yaml:"upstream_stream_only"`
	Headers             map[string]string `toml:"headers" yaml:"headers"`
	ForwardHeaders      []string          `toml:"forward_headers" yaml:"forward_headers"`
	DropToolTypes       []string          `toml:"drop_tool_types" yaml:"drop_tool_types"`
	ServerInfo          *string           `toml:"server_info" yaml:"server_info"`
	HTTPShutdown        *bool             `toml:"http_shutdown" yaml:"http_shutdown"`
	Verbose             *bool             `toml:"verbose_logging" yaml:"verbose_logging"`
}

// Merge returns o with every field set in top replacing the value in o.
// Collections are replaced as a whole, never merged element-wise.
func (o Overrides) Merge(top Overrides) Overrides {
	out := o
	if top.Host != nil {
		out.Host = top.Host
	}
	if top.Port != nil {
		out.Port = top.Port
	}
	if top.UpstreamURL != nil {
		out.UpstreamURL = top.UpstreamURL
	}
	if top.UpstreamWire != nil {
		out.UpstreamWire = top.UpstreamWire
	}
	if top.APIKeyEnv != nil {
		out.APIKeyEnv = top.APIKeyEnv
	}
	if top.UpstreamTimeoutSecs != nil {
		out.UpstreamTimeoutSecs = top.UpstreamTimeoutSecs
	}
	if top.UpstreamStreamOnly != nil {
		out.UpstreamStreamOnly = top.UpstreamStreamOnly
	}
	if top.Headers != nil {
		out.Headers = top.Headers
	}
	if top.ForwardHeaders != nil {
		out.ForwardHeaders = top.ForwardHeaders
	}
	if top.DropToolTypes != nil {
		out.DropToolTypes = top.DropToolTypes
	}
	if top.ServerInfo != nil {
		out.ServerInfo = top.ServerInfo
	}
	if top.HTTPShutdown != nil {
		out.HTTPShutdown = top.HTTPShutdown
	}
	if top.Verbose != nil {
		out.Verbose = top.Verbose
	}
	return out
}

// Resolve fills defaults for unset fields, validates the result and returns
// a fresh Configuration that shares no memory with o.
func (o Overrides) Resolve() (*Configuration, error) {
	var verr ValidationError

	cfg := &Configuration{
		Host:            DefaultHost,
		APIKeyEnv:       DefaultAPIKeyEnv,
		UpstreamWire:    WireChat,
		UpstreamTimeout: DefaultUpstreamTimeout,
	}
	if o.Host != nil {
		cfg.Host = strings.TrimSpace(*o.Host)
	}
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.UpstreamWire != nil {
		w, ok := ParseWire(*o.UpstreamWire)
		if !ok {
			verr.Add("upstream_wire", "must be \"chat\" or \"responses\"")
		} else {
			cfg.UpstreamWire = w
		}
	}
	if o.UpstreamURL != nil {
		cfg.UpstreamURL = strings.TrimSpace(*o.UpstreamURL)
	}
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL(cfg.UpstreamWire)
	}
	if o.APIKeyEnv != nil {
		cfg.APIKeyEnv = strings.TrimSpace(*o.APIKeyEnv)
	}
	if o.UpstreamTimeoutSecs != nil {
		cfg.UpstreamTimeout = time.Duration(*o.UpstreamTimeoutSecs) * time.Second
	}
	if o.UpstreamStreamOnly != nil {
		cfg.UpstreamStreamOnly = *o.UpstreamStreamOnly
	}
	if o.ServerInfo != nil {
		cfg.ServerInfoPath = strings.TrimSpace(*o.ServerInfo)
	}
	if o.HTTPShutdown != nil {
		cfg.HTTPShutdown = *o.HTTPShutdown
	}
	if o.Verbose != nil {
		cfg.Verbose = *o.Verbose
	}
	if len(o.Headers) > 0 {
		cfg.staticHeaders = make(map[string]string, len(o.Headers))
		for k, v := range o.Headers {
			cfg.staticHeaders[strings.TrimSpace(k)] = v
		}
	}
	if o.ForwardHeaders != nil {
		cfg.forwardHeaders = cleanList(o.ForwardHeaders)
	}
	cfg.dropToolTypes = cleanList(o.DropToolTypes)

	validate(cfg, &verr)
	if verr.HasErrors() {
		return nil, &verr
	}
	return cfg, nil
}

// cleanList trims, drops empties and de-duplicates while keeping order.
// The result is non-nil whenever in is non-nil.
func cleanList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
