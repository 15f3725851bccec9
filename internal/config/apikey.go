package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// APIKeyField unmarshals either a bare JSON string or an array of strings
// into an ordered key list, preserving priority order (spec.md §4.1: "Ordering
// of providers within a route is preserved and is taken as priority order" —
// the same rule applies to keys within a provider).
type APIKeyField []string

func (f *APIKeyField) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = nil
		return nil
	}
	if trimmed[0] == '[' {
		var keys []string
		if err := json.Unmarshal(trimmed, &keys); err != nil {
			return fmt.Errorf("api_key array: %w", err)
		}
		*f = keys
		return nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return fmt.Errorf("api_key string: %w", err)
	}
	*f = []string{single}
	return nil
}

func (f APIKeyField) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(f))
}

// RouteTargets unmarshals a route's value as either a bare "provider,model"
// string or an ordered JSON array of such strings — the array form carries
// the fallback priority list spec.md §3/§4.1 require; the bare-string form
// is the minimal single-provider case shown in spec.md §6.
type RouteTargets []string

func (t *RouteTargets) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*t = nil
		return nil
	}
	if trimmed[0] == '[' {
		var targets []string
		if err := json.Unmarshal(trimmed, &targets); err != nil {
			return fmt.Errorf("routing target array: %w", err)
		}
		*t = targets
		return nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return fmt.Errorf("routing target string: %w", err)
	}
	*t = []string{single}
	return nil
}
