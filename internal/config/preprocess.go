package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
)

const layer = "config_preprocessor"

// Load reads configPath, resolves ${VAR} placeholders against the process
// environment, and validates the result, without building the routing
// table — exposed separately from Preprocess so the composition root can
// also reach the server bind address and debug settings a RoutingTable and
// Catalogue don't carry.
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gatewayerr.New(gatewayerr.KindConfiguration, layer, "", fmt.Sprintf("MissingConfig: %s not found", configPath))
		}
		return nil, gatewayerr.Wrap(gatewayerr.KindConfiguration, layer, "", 0, err)
	}

	resolved, err := substituteEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, gatewayerr.New(gatewayerr.KindConfiguration, layer, "", fmt.Sprintf("InvalidConfig: %s: %v", configPath, err))
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Preprocess loads configPath and emits a RoutingTable plus provider
// Catalogue. No field required by a downstream layer is defaulted silently
// (spec.md §4.1) — a missing or malformed field fails closed.
func Preprocess(configPath string) (*RoutingTable, *Catalogue, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	catalogue := buildCatalogue(cfg)
	table, err := buildRoutingTable(cfg, catalogue)
	if err != nil {
		return nil, nil, err
	}

	return table, catalogue, nil
}

// substituteEnv resolves every ${VAR} occurrence, failing closed (rather
// than substituting empty string) when VAR is unset — matching spec.md §6's
// "there are no implicit fallbacks" rule. Uses os.Expand with a resolver
// that records the first missing variable, the same hand-rolled-scanner
// idiom the teacher uses in healthring's resolveTemplate rather than
// reaching for a templating engine for a one-shot substitution.
func substituteEnv(doc string) (string, error) {
	var missing string
	out := os.Expand(doc, func(name string) string {
		if name == "" {
			return ""
		}
		val, ok := os.LookupEnv(name)
		if !ok && missing == "" {
			missing = name
		}
		return val
	})
	if missing != "" {
		return "", gatewayerr.New(gatewayerr.KindConfiguration, layer, "", fmt.Sprintf("EnvironmentVariableMissing: ${%s} is not set", missing))
	}
	return out, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return invalid("server.port", "must be between 1 and 65535")
	}
	if cfg.Server.Host == "" {
		return invalid("server.host", "must not be empty")
	}
	if len(cfg.Providers) == 0 {
		return invalid("providers", "must declare at least one provider")
	}
	for name, p := range cfg.Providers {
		if p.Protocol == "" {
			return invalid(fmt.Sprintf("providers.%s.protocol", name), "must not be empty")
		}
		if p.APIBaseURL == "" {
			return invalid(fmt.Sprintf("providers.%s.api_base_url", name), "must not be empty")
		}
		if len(p.APIKey) == 0 {
			return invalid(fmt.Sprintf("providers.%s.api_key", name), "must not be empty")
		}
		if len(p.Models) == 0 {
			return invalid(fmt.Sprintf("providers.%s.models", name), "must declare at least one model")
		}
	}
	if cfg.Distributed.Enabled {
		if cfg.Distributed.InstanceName == "" {
			return invalid("distributed.instance_name", "must not be empty when distributed mode is enabled")
		}
		if cfg.Distributed.RedisAddr == "" {
			return invalid("distributed.redis_addr", "must not be empty when distributed mode is enabled")
		}
	}
	if len(cfg.Routing) == 0 {
		return invalid("routing", "must declare at least one route")
	}
	if _, ok := cfg.Routing["default"]; !ok {
		return invalid("routing.default", "must declare a default route")
	}
	for routeName, targets := range cfg.Routing {
		if len(targets) == 0 {
			return invalid(fmt.Sprintf("routing.%s", routeName), "must name at least one provider,model target")
		}
		for _, t := range targets {
			provider, model, err := splitTarget(t)
			if err != nil {
				return invalid(fmt.Sprintf("routing.%s", routeName), err.Error())
			}
			p, ok := cfg.Providers[provider]
			if !ok {
				return invalid(fmt.Sprintf("routing.%s", routeName), fmt.Sprintf("unknown provider %q", provider))
			}
			if !containsModel(p.Models, model) {
				return invalid(fmt.Sprintf("routing.%s", routeName), fmt.Sprintf("provider %q does not advertise model %q", provider, model))
			}
		}
	}
	return nil
}

func invalid(field, reason string) error {
	return gatewayerr.New(gatewayerr.KindConfiguration, layer, "", fmt.Sprintf("InvalidConfig: %s: %s", field, reason))
}

func splitTarget(target string) (provider, model string, err error) {
	parts := strings.SplitN(target, ",", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("target %q must be of the form \"provider,model\"", target)
	}
	return parts[0], parts[1], nil
}

func containsModel(models []string, model string) bool {
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

func buildCatalogue(cfg *Config) *Catalogue {
	cat := &Catalogue{Providers: make(map[string]*Provider, len(cfg.Providers))}
	for name, p := range cfg.Providers {
		caps := CapabilitiesConfig{}
		if p.Capabilities != nil {
			caps = *p.Capabilities
		}
		cat.Providers[name] = &Provider{
			Name:                name,
			Protocol:            p.Protocol,
			BaseURL:             p.APIBaseURL,
			APIKeys:             append([]string(nil), p.APIKey...),
			Models:              append([]string(nil), p.Models...),
			Capabilities:        caps,
			ParameterLimits:     p.ParameterLimits,
			ResponseFixesNeeded: append([]string(nil), p.ResponseFixesNeeded...),
		}
	}
	return cat
}

// buildRoutingTable canonicalises each routing entry into an ordered Route
// list, preserving config order as priority order (spec.md §4.1).
func buildRoutingTable(cfg *Config, cat *Catalogue) (*RoutingTable, error) {
	table := &RoutingTable{Routes: make(map[string][]Route, len(cfg.Routing)), DefaultRoute: "default"}
	for routeName, targets := range cfg.Routing {
		routes := make([]Route, 0, len(targets))
		for _, t := range targets {
			provider, model, err := splitTarget(t)
			if err != nil {
				return nil, invalid(fmt.Sprintf("routing.%s", routeName), err.Error())
			}
			routes = append(routes, Route{Name: routeName, Provider: provider, Model: model})
		}
		table.Routes[routeName] = routes
	}
	return table, nil
}
