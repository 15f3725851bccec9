package pipeline

import (
	"fmt"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/config"
)

// Status is a Pipeline's lifecycle state (spec.md §3). destroyed is terminal
// and is never reinstated.
type Status string

const (
	StatusHealthy           Status = "healthy"
	StatusTemporarilyBlocked Status = "temporarily-blocked"
	StatusBlacklisted        Status = "blacklisted"
	StatusDestroyed          Status = "destroyed"
)

// LayerDescriptor is one blueprint-carried, layer-specific configuration
// slot. Every blueprint carries all six even when a layer is a no-op for
// that provider — presence is a correctness invariant (spec.md §4.2).
type LayerDescriptor struct {
	Kind   string
	Config map[string]interface{}
}

// Blueprint is the declarative description a Pipeline is assembled from
// (spec.md §3, §4.2).
type Blueprint struct {
	ID         string
	RouteName  string
	Provider   *config.Provider
	Model      string
	EndpointURL string
	APIKeyIndex int
	Timeout     time.Duration
	RetryBudget int
	Layers      [6]LayerDescriptor
}

const (
	layerClient = iota
	layerRouter
	layerTransformer
	layerProtocol
	layerCompatibility
	layerServer
)

var layerNames = [6]string{"client", "router", "transformer", "protocol", "compatibility", "server"}

// Validate rejects a blueprint missing an endpoint, any layer, or an id —
// the assembler's local-validation rule (spec.md §4.2).
func (b *Blueprint) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("blueprint missing id")
	}
	if b.EndpointURL == "" {
		return fmt.Errorf("blueprint %s missing endpoint", b.ID)
	}
	for i, name := range layerNames {
		if b.Layers[i].Kind == "" {
			return fmt.Errorf("blueprint %s missing %s layer", b.ID, name)
		}
	}
	return nil
}
