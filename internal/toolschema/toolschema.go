// Package toolschema validates a tool_use block's input against the JSON
// Schema its tool declared in the request's tools list, catching malformed
// replayed tool calls before the compatibility/transformer layers pass them
// on to an upstream that may not re-validate them. Grounded on goa-ai's
// registry.validatePayloadJSONAgainstSchema, which compiles and validates a
// tool-call payload against a schema document the same way, per call.
package toolschema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
)

// ValidateToolUses checks every tool_use block across req's messages
// against the input_schema its tool declared. A tool referenced by name
// but not declared, or declared without a schema, is left unchecked — that
// mismatch is caught elsewhere (the client layer's known-tool-use-id rule).
func ValidateToolUses(req *canonical.Request) error {
	schemas := make(map[string]json.RawMessage, len(req.Tools))
	for _, t := range req.Tools {
		schemas[t.Name] = t.InputSchema
	}
	for _, m := range req.Messages {
		for _, b := range m.Blocks {
			if b.Type != canonical.BlockToolUse {
				continue
			}
			raw, ok := schemas[b.Name]
			if !ok || len(raw) == 0 {
				continue
			}
			if err := validateOne(raw, b.Input); err != nil {
				return fmt.Errorf("tool_use %s (%s): %w", b.ID, b.Name, err)
			}
		}
	}
	return nil
}

func validateOne(schemaBytes, input json.RawMessage) error {
	var schemaDoc interface{}
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}

	var inputDoc interface{} = map[string]interface{}{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &inputDoc); err != nil {
			return fmt.Errorf("unmarshal input: %w", err)
		}
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return schema.Validate(inputDoc)
}
