package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks outbox payloads against the event schemas before they are
// handed to the broker. A payload that fails here would be rejected by every
// consumer, so it goes straight to the DLQ instead of burning delivery
// retries.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the schema catalog. Compilation failures are
// programming errors in the schema constants, so they surface immediately.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema, len(schemaCatalog))

	for eventType, entry := range schemaCatalog {
		url := eventType + ".schema.json"
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(entry.Schema)))
		if err != nil {
			return nil, fmt.Errorf("parsing schema for %s: %w", eventType, err)
		}
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("adding schema for %s: %w", eventType, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", eventType, err)
		}
		compiled[eventType] = schema
	}

	return &Validator{schemas: compiled}, nil
}

// Validate checks a payload against the schema registered for its event type.
func (v *Validator) Validate(eventType string, payload json.RawMessage) error {
	schema, ok := v.schemas[eventType]
	if !ok {
		return fmt.Errorf("no schema registered for event_type=%s", eventType)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("payload rejected by schema: %w", err)
	}
	return nil
}
