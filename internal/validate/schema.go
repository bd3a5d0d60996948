package validate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"memlog/internal/domain"
)

//go:embed entry.schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.NewCompiler().Compile(schemaJSON)
})

// Schema returns the JSON Schema document describing a wire entry.
func Schema() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}

// SchemaError reports whether the embedded schema failed to compile.
func SchemaError() error {
	_, err := compiledSchema()
	return err
}

// conform runs the compiled JSON Schema over data. Field checks run first and
// produce the precise error; this is the final gate.
func conform(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile entry schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &domain.ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	result := schema.Validate(v)
	if !result.IsValid() {
		return &domain.ValidationError{Reason: fmt.Sprintf("schema: %s", result.Error())}
	}
	return nil
}
