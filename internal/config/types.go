package config

// Config is the JSON document on disk (spec.md §6). No field here gets a
// silently-substituted default once it reaches a Provider or Route — the
// Config Preprocessor either has a well-formed value for every field a
// downstream layer needs, or it fails closed.
type Config struct {
	Server      ServerConfig              `json:"server"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Routing     map[string]RouteTargets   `json:"routing"`
	Debug       DebugConfig               `json:"debug"`
	Distributed DistributedConfig         `json:"distributed,omitempty"`
}

// ServerConfig is the Front HTTP Server's bind address.
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// DistributedConfig switches on the Flow Controller's optional Redis-backed
// pool coordination: a shared dead-letter stream, cross-instance
// conversation announcements, and instance-liveness heartbeats. A gateway
// with this left absent runs single-instance, in-memory only.
type DistributedConfig struct {
	Enabled       bool   `json:"enabled"`
	InstanceName  string `json:"instance_name"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

// ProviderConfig is the raw, pre-substitution shape of one provider entry.
// APIKey accepts either a bare string or a JSON array of strings, matching
// spec.md §6's "api_key (string or array)".
type ProviderConfig struct {
	Protocol            string                `json:"protocol"`
	APIBaseURL          string                `json:"api_base_url"`
	APIKey              APIKeyField           `json:"api_key"`
	Models              []string              `json:"models"`
	Capabilities        *CapabilitiesConfig   `json:"capabilities,omitempty"`
	ParameterLimits     map[string]ParamLimit `json:"parameterLimits,omitempty"`
	ResponseFixesNeeded []string              `json:"responseFixesNeeded,omitempty"`
}

// CapabilitiesConfig are the optional per-provider capability flags.
type CapabilitiesConfig struct {
	SupportsTools     bool `json:"supports_tools"`
	SupportsThinking  bool `json:"supports_thinking"`
	SupportsStreaming bool `json:"supports_streaming"`
}

// ParamLimit bounds one numeric knob for clamping in the compatibility layer.
type ParamLimit struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// DebugConfig controls the on-disk per-layer-transition trace.
type DebugConfig struct {
	Enabled  bool   `json:"enabled"`
	LogLevel string `json:"logLevel"`
	LogDir   string `json:"logDir"`
}
