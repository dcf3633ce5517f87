package signal

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// rawSchema is the contract model collaborators must follow. Strength
// bounds are enforced here so a misbehaving model fails validation
// before any field parsing happens.
const rawSchema = `{
  "type": "object",
  "required": ["instrument", "timestamp", "strength", "model_id"],
  "properties": {
    "instrument": {"type": "string", "minLength": 1},
    "timestamp":  {"type": "integer", "minimum": 0},
    "strength":   {"type": "number", "minimum": -1, "maximum": 1},
    "model_id":   {"type": "string", "minLength": 1},
    "horizon":    {"type": "string"}
  }
}`

var compiledSchema = mustCompile(rawSchema)

func mustCompile(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("signal.json", strings.NewReader(src)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("signal.json")
}
