package plugin

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hackenstacks/ai-nexus/pkg/state"
)

// recordSchema validates plugin records arriving as raw JSON, e.g. imports
// over the gateway. Runtime-facing invariants are checked again by
// ValidateRecord after decoding.
const recordSchema = `{
	"type": "object",
	"required": ["id", "name", "code"],
	"properties": {
		"id":          {"type": "string", "minLength": 1},
		"name":        {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"code":        {"type": "string", "minLength": 1},
		"enabled":     {"type": "boolean"},
		"settings":    {"type": "object"}
	},
	"additionalProperties": false
}`

var compiledRecordSchema = gojsonschema.NewStringLoader(recordSchema)

// ValidateRecordJSON checks a raw plugin record against the schema.
func ValidateRecordJSON(raw []byte) error {
	result, err := gojsonschema.Validate(compiledRecordSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("invalid plugin record: %w", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return fmt.Errorf("invalid plugin record: %s", strings.Join(issues, "; "))
}

// ValidateRecord checks the invariants the manager relies on.
func ValidateRecord(p state.Plugin) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("plugin id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("plugin name is required")
	}
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("plugin code is required")
	}
	return nil
}
