package compat

import "github.com/cortexhub/anthropic-gateway/internal/config"

// clampableFields lists the request-body field names that carry a
// provider-advertised min/max in config.ParamLimit. Operating by field
// name on the generic JSON map (rather than a per-dialect struct) lets one
// implementation serve every provider-native body shape (spec.md §4.5).
var clampableFields = []string{"temperature", "top_p", "top_k", "max_tokens", "maxOutputTokens", "n_predict"}

// RequestPreprocess clamps every numeric knob to the provider's advertised
// min/max (removing the field is preferred over emitting an out-of-range
// value the provider will reject), and drops tool-related fields entirely
// when the provider does not support tools.
func RequestPreprocess(raw []byte, provider *config.Provider) []byte {
	body, err := decodeJSON(raw)
	if err != nil {
		return raw
	}

	for _, field := range clampableFields {
		limit, ok := provider.ParameterLimits[field]
		if !ok {
			continue
		}
		clampField(body, field, limit)
	}

	if !provider.Capabilities.SupportsTools {
		delete(body, "tools")
		delete(body, "tool_choice")
	}

	out, err := encodeJSON(body)
	if err != nil {
		return raw
	}
	return out
}

func clampField(body map[string]interface{}, field string, limit config.ParamLimit) {
	val, ok := body[field]
	if !ok {
		return
	}
	num, ok := asFloat(val)
	if !ok {
		return
	}
	if limit.Min != nil && num < *limit.Min {
		delete(body, field)
		return
	}
	if limit.Max != nil && num > *limit.Max {
		delete(body, field)
		return
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
