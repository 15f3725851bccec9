package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/config"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultRetryBudget = 2
)

// BuildBlueprints is the Router Preprocessor: a pure function
// routingTable → []Blueprint (spec.md §4.2). For every (routeName,
// providerEntry) pair it emits exactly one blueprint; blueprints within a
// route are sorted by provider priority, higher (i.e. earlier in the
// route's configured list) first.
func BuildBlueprints(table *config.RoutingTable, catalogue *config.Catalogue) []*Blueprint {
	var blueprints []*Blueprint
	for routeName, routes := range table.Routes {
		for priority, route := range routes {
			provider, ok := catalogue.Providers[route.Provider]
			if !ok {
				continue // unknown providers were already rejected at config-validation time
			}
			blueprints = append(blueprints, buildBlueprint(routeName, priority, route, provider))
		}
	}
	sort.SliceStable(blueprints, func(i, j int) bool {
		if blueprints[i].RouteName != blueprints[j].RouteName {
			return blueprints[i].RouteName < blueprints[j].RouteName
		}
		return blueprintPriority(blueprints[i]) < blueprintPriority(blueprints[j])
	})
	return blueprints
}

// priority is stashed in the router layer's config so BuildBlueprints'
// stable sort (and the runtime Router's route-order walk) can recover it
// without a parallel slice.
func blueprintPriority(b *Blueprint) int {
	p, _ := b.Layers[layerRouter].Config["priority"].(int)
	return p
}

func buildBlueprint(routeName string, priority int, route config.Route, provider *config.Provider) *Blueprint {
	id := fmt.Sprintf("pipeline_%s_%s", route.Provider, route.Model)
	b := &Blueprint{
		ID:          id,
		RouteName:   routeName,
		Provider:    provider,
		Model:       route.Model,
		EndpointURL: endpointFor(provider, route.Model),
		APIKeyIndex: 0,
		Timeout:     defaultTimeout,
		RetryBudget: defaultRetryBudget,
	}
	b.Layers[layerClient] = LayerDescriptor{Kind: "client.validate", Config: map[string]interface{}{}}
	b.Layers[layerRouter] = LayerDescriptor{Kind: "router.stamp", Config: map[string]interface{}{
		"route_name": routeName, "priority": priority, "pipeline_id": id,
	}}
	b.Layers[layerTransformer] = LayerDescriptor{Kind: "transform." + provider.Protocol, Config: map[string]interface{}{
		"model": route.Model,
	}}
	b.Layers[layerProtocol] = LayerDescriptor{Kind: "protocol." + provider.Protocol, Config: map[string]interface{}{
		"base_url": provider.BaseURL, "model": route.Model,
	}}
	b.Layers[layerCompatibility] = LayerDescriptor{Kind: "compat.fixes", Config: map[string]interface{}{
		"capabilities": provider.Capabilities, "limits": provider.ParameterLimits, "fix_tags": provider.ResponseFixesNeeded,
	}}
	b.Layers[layerServer] = LayerDescriptor{Kind: "server.http", Config: map[string]interface{}{
		"api_keys": provider.APIKeys, "timeout": defaultTimeout,
	}}
	return b
}

func endpointFor(provider *config.Provider, model string) string {
	switch provider.Protocol {
	case "gemini":
		return fmt.Sprintf("%s/v1beta/models/%s:generateContent", provider.BaseURL, model)
	case "ollama":
		return fmt.Sprintf("%s/api/chat", provider.BaseURL)
	case "llamacpp":
		return fmt.Sprintf("%s/completion", provider.BaseURL)
	default:
		return fmt.Sprintf("%s/v1/chat/completions", provider.BaseURL)
	}
}
