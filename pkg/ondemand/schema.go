package ondemand

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const metadataSchemaURL = "ondemand-metadata.json"

// metadataSchema constrains metadata documents read from disk or callers.
// Unknown properties are tolerated so newer API fields pass through.
const metadataSchema = `{
  "type": "object",
  "properties": {
    "version":       {"type": "string"},
    "mimeType":      {"type": "string"},
    "name":          {"type": "string"},
    "data":          {"type": "string"},
    "mapping":       {"$ref": "#/$defs/mappings"},
    "outputMapping": {"$ref": "#/$defs/mappings"},
    "groupId":       {"type": ["string", "null"]},
    "isGrouped":     {"type": ["boolean", "null"]},
    "versionId":     {"type": ["string", "null"]},
    "containerId":   {"type": ["string", "null"]}
  },
  "$defs": {
    "mappings": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["source", "destination"],
        "properties": {
          "source":       {"type": "string"},
          "destination":  {"type": "string"},
          "defaultValue": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var compileMetadataSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(metadataSchemaURL, strings.NewReader(metadataSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(metadataSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

func validateMetadata(data []byte) error {
	schema, err := compileMetadataSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("metadata does not match schema: %w", err)
	}
	return nil
}
