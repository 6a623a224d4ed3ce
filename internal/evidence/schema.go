package evidence

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// #region schema
const schemaURL = "simuniverse://evidence.schema.json"

const schemaText = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "score": {
      "type": "object",
      "anyOf": [
        {"required": ["candidate_id"]},
        {"required": ["toe_candidate_id"]}
      ],
      "properties": {
        "candidate_id": {"type": "string", "minLength": 1},
        "toe_candidate_id": {"type": "string", "minLength": 1},
        "world_id": {"type": "string"},
        "mu_score": {"type": "number"},
        "mu_score_avg": {"type": "number"},
        "faizal_score": {"type": "number"},
        "faizal_score_avg": {"type": "number"},
        "mean_undecidability_index": {"type": "number"},
        "mean_undecidability_index_avg": {"type": "number"},
        "undecidability_avg": {"type": "number"},
        "energy_feasibility": {"type": "number"},
        "energy_feasibility_avg": {"type": "number"}
      }
    },
    "scores": {
      "type": "array",
      "items": {"$ref": "#/$defs/score"}
    }
  },
  "oneOf": [
    {"$ref": "#/$defs/scores"},
    {
      "type": "object",
      "properties": {
        "run_id": {"type": ["string", "null"]},
        "stage5_run_id": {"type": ["string", "null"]},
        "scores": {"$ref": "#/$defs/scores"},
        "simuniverse_summary": {"$ref": "#/$defs/scores"}
      },
      "anyOf": [
        {"required": ["scores"]},
        {"required": ["simuniverse_summary"]}
      ]
    }
  ]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func payloadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaText)); err != nil {
			schemaErr = fmt.Errorf("add evidence schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile evidence schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// #endregion schema
