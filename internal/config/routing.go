package config

// Provider is the canonical, post-preprocessing shape (spec.md §3): it
// appears once in the catalogue regardless of how many routes reference it.
type Provider struct {
	Name                string
	Protocol            string
	BaseURL             string
	APIKeys             []string
	Models              []string
	Capabilities        CapabilitiesConfig
	ParameterLimits     map[string]ParamLimit
	ResponseFixesNeeded []string
}

// Route is one (provider, model) target within a virtual model's priority
// list, canonicalised from the config's "provider,model" string form.
type Route struct {
	Name     string
	Provider string
	Model    string
}

// RoutingTable is the Config Preprocessor's output: a mapping from virtual
// model name to its ordered list of routes, plus the designated default.
type RoutingTable struct {
	Routes       map[string][]Route
	DefaultRoute string
}

// Catalogue is the provider set addressed by the RoutingTable's routes.
type Catalogue struct {
	Providers map[string]*Provider
}
