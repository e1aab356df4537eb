package config

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/swaggest/jsonschema-go"
)

// JSONSchema describes Duration as a duration string
func (Duration) JSONSchema() (jsonschema.Schema, error) {
	strType := jsonschema.SimpleType("string")
	description := "Go duration string such as 90s or 5m; a bare number is seconds"
	pattern := `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^[0-9]+$`
	return jsonschema.Schema{
		Type:        &jsonschema.Type{SimpleTypes: &strType},
		Description: &description,
		Pattern:     &pattern,
		Examples:    []interface{}{"90s", "5m"},
	}, nil
}

// Schema returns the JSON schema of the configuration file
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{}
	s, err := r.Reflect(Config{}, jsonschema.InlineRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect config schema: %w", err)
	}
	s.WithTitle("p2prelay configuration")

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config schema: %w", err)
	}
	return data, nil
}
