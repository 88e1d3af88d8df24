package skills

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ellory/everworld/internal/world"
)

// bodySchema gates candidate bodies before decoding. The structural
// limits the schema cannot express live in Body.validate.
const bodySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "description", "steps"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z][a-z0-9_]{1,39}$"},
    "description": {"type": "string", "maxLength": 400},
    "requires": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 1, "maximum": 64}
    },
    "min_energy": {"type": "number", "minimum": 0, "maximum": 100},
    "steps": {
      "type": "array",
      "minItems": 1,
      "maxItems": 8,
      "items": {
        "type": "object",
        "required": ["op"],
        "additionalProperties": false,
        "properties": {
          "op": {"enum": ["consume", "produce", "spend_energy", "recover_energy"]},
          "item": {"type": "string", "pattern": "^[a-z][a-z0-9_]{0,39}$"},
          "count": {"type": "integer", "minimum": 1, "maximum": 64},
          "amount": {"type": "number", "exclusiveMinimum": 0, "maximum": 30}
        }
      }
    }
  }
}`

var compiledBodySchema = jsonschema.MustCompileString("skill_body.json", bodySchema)

// ValidateCandidate runs a raw candidate through the schema, decodes
// it, and dry-runs it against a synthetic agent that satisfies its own
// precondition. A body that cannot even run under its stated contract
// is rejected here, before it can ever be committed.
func ValidateCandidate(raw json.RawMessage) (Body, error) {
	var doc any
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&doc); err != nil {
		return Body{}, fmt.Errorf("candidate is not JSON: %w", err)
	}
	if err := compiledBodySchema.Validate(doc); err != nil {
		return Body{}, fmt.Errorf("candidate schema: %w", err)
	}
	body, err := DecodeBody(raw)
	if err != nil {
		return Body{}, err
	}
	if _, err := body.run(syntheticAgent(body)); err != nil {
		return Body{}, fmt.Errorf("candidate %q fails its own contract: %w", body.Name, err)
	}
	return body, nil
}

// syntheticAgent builds the minimal state the body's precondition
// promises, so the dry-run proves the contract is sufficient.
func syntheticAgent(b Body) world.AgentState {
	inv := make(map[string]int, len(b.Requires))
	for item, n := range b.Requires {
		inv[item] = n
	}
	return world.AgentState{
		Inventory: inv,
		Vitals:    world.Vitals{Energy: b.MinEnergy, Health: 100},
	}
}
