// Package schemacheck validates decoded sealed-record plaintext against an
// embedded JSON Schema before a record is trusted. It exists because a
// sealed file can decrypt and verify its signature yet still carry a
// plaintext shape from an older or foreign version of Trust Core; schema
// validation catches that before the record reaches application code.
package schemacheck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"trustcore/internal/trusterr"
)

// Validator compiles a JSON Schema once and validates arbitrary decoded
// JSON values against it. It is safe for concurrent use.
type Validator struct {
	mu     sync.Mutex
	schema *jsonschema.Schema
}

// Compile compiles schemaJSON (a JSON Schema document) under resourceID,
// which need not resolve to anything on disk; it is only used as the
// schema's internal identifier.
func Compile(resourceID string, schemaJSON []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("%w: add schema resource: %v", trusterr.ErrSerializationError, err)
	}
	schema, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: compile schema: %v", trusterr.ErrSerializationError, err)
	}
	return &Validator{schema: schema}, nil
}

// MustCompile is Compile but panics on error; intended for package-level
// var initialization of schemas embedded as Go string constants, where a
// compile failure is a programmer error caught at startup.
func MustCompile(resourceID string, schemaJSON []byte) *Validator {
	v, err := Compile(resourceID, schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateJSON unmarshals raw into a generic JSON value and validates it
// against the compiled schema.
func (v *Validator) ValidateJSON(raw []byte) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("%w: %v", trusterr.ErrSerializationError, err)
	}
	return v.Validate(instance)
}

// Validate validates an already-decoded JSON value (map[string]any,
// []any, string, float64, bool, nil) against the compiled schema.
func (v *Validator) Validate(instance any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", trusterr.ErrSerializationError, err)
	}
	return nil
}
