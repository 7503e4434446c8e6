package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// tilesetSchemaDoc is a minimal structural schema for tileset.json and
// layer.json, covering the fields this module actually reads. The full
// 3D Tiles / quantized-mesh JSON schemas are much larger; validating the
// subset we consume catches malformed fixtures early without vendoring
// the upstream schema files.
const tilesetSchemaDoc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["asset", "geometricError", "root"],
  "properties": {
    "asset": {
      "type": "object",
      "required": ["version"],
      "properties": { "version": { "type": "string" } }
    },
    "geometricError": { "type": "number" },
    "root": { "$ref": "#/definitions/tile" }
  },
  "definitions": {
    "tile": {
      "type": "object",
      "required": ["boundingVolume", "geometricError"],
      "properties": {
        "boundingVolume": { "type": "object" },
        "geometricError": { "type": "number" },
        "refine": { "type": "string", "enum": ["ADD", "REPLACE"] },
        "transform": { "type": "array", "items": { "type": "number" }, "minItems": 16, "maxItems": 16 },
        "content": {
          "type": "object",
          "required": ["uri"],
          "properties": { "uri": { "type": "string" } }
        },
        "children": { "type": "array", "items": { "$ref": "#/definitions/tile" } }
      }
    }
  }
}`

const layerSchemaDoc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tilejson", "format", "tiles"],
  "properties": {
    "tilejson": { "type": "string" },
    "format": { "type": "string" },
    "tiles": { "type": "array", "items": { "type": "string" } },
    "available": { "type": "array" }
  }
}`

var (
	tilesetSchema *jsonschema.Schema
	layerSchema   *jsonschema.Schema
)

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tileset.json.schema", bytes.NewReader([]byte(tilesetSchemaDoc))); err != nil {
		panic(fmt.Sprintf("wire: invalid embedded tileset schema: %v", err))
	}
	var err error
	tilesetSchema, err = c.Compile("tileset.json.schema")
	if err != nil {
		panic(fmt.Sprintf("wire: compile embedded tileset schema: %v", err))
	}

	lc := jsonschema.NewCompiler()
	if err := lc.AddResource("layer.json.schema", bytes.NewReader([]byte(layerSchemaDoc))); err != nil {
		panic(fmt.Sprintf("wire: invalid embedded layer schema: %v", err))
	}
	layerSchema, err = lc.Compile("layer.json.schema")
	if err != nil {
		panic(fmt.Sprintf("wire: compile embedded layer schema: %v", err))
	}
}

// ValidateTilesetJSON checks raw tileset.json bytes against the embedded
// structural schema before ParseTilesetJSON attempts a full decode, so
// malformed fixtures fail with a precise schema path instead of a
// confusing zero-value tile tree.
func ValidateTilesetJSON(data []byte) error {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("wire: tileset.json is not valid JSON: %w", err)
	}
	if err := tilesetSchema.Validate(v); err != nil {
		return fmt.Errorf("wire: tileset.json failed schema validation: %w", err)
	}
	return nil
}

// ValidateLayerJSON checks raw layer.json (quantized-mesh terrain
// metadata) bytes against the embedded structural schema.
func ValidateLayerJSON(data []byte) error {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("wire: layer.json is not valid JSON: %w", err)
	}
	if err := layerSchema.Validate(v); err != nil {
		return fmt.Errorf("wire: layer.json failed schema validation: %w", err)
	}
	return nil
}
