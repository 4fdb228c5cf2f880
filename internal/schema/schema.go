// Package schema implements Schema Validation for the three documents
// named in spec §4.11: facts, plan, and user config. Validation returns a
// structured result; assertValid* helpers panic-free-wrap that into an
// error with a formatted path list for callers that want a hard failure.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Document names the three schema-governed document kinds (spec §4.11
// "Three documents: facts, plan, user config").
type Document string

const (
	DocumentFacts  Document = "facts"
	DocumentPlan   Document = "plan"
	DocumentConfig Document = "config"
)

// Result is the outcome of Validate (spec §4.11 "Validation returns
// {valid, errors[]}").
type Result struct {
	Valid  bool
	Errors []string
}

// Validator compiles and caches JSON Schema documents and validates
// arbitrary values against them.
type Validator struct {
	mu      sync.Mutex
	schemas map[Document]*jsonschema.Schema
}

// NewValidator constructs a Validator with no schemas registered. Call
// Register to add the facts/plan/config schemas before validating.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[Document]*jsonschema.Schema)}
}

// Register compiles schemaJSON and binds it to doc. Compilation errors are
// returned immediately rather than deferred to the first Validate call.
// For DocumentConfig, a top-level "additionalProperties": false is forced
// onto an object schema that omits it, so the config validator rejects
// unknown top-level keys even when the supplied schema forgets to say so
// (spec §4.11 "The config validator must reject unknown top-level keys").
func (v *Validator) Register(doc Document, schemaJSON []byte) error {
	var decoded any
	if err := json.Unmarshal(schemaJSON, &decoded); err != nil {
		return fmt.Errorf("schema: unmarshal %s schema: %w", doc, err)
	}
	if doc == DocumentConfig {
		decoded = forbidUnknownTopLevelKeys(decoded)
	}

	name := string(doc) + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, decoded); err != nil {
		return fmt.Errorf("schema: add %s resource: %w", doc, err)
	}
	compiled, err := c.Compile(name)
	if err != nil {
		return fmt.Errorf("schema: compile %s schema: %w", doc, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[doc] = compiled
	return nil
}

// Validate checks value (any JSON-marshalable Go value) against doc's
// registered schema (spec §4.11). Returns Result{Valid:true} when no
// schema is registered for doc — validation is opt-in per document.
func (v *Validator) Validate(doc Document, value any) (Result, error) {
	v.mu.Lock()
	compiled, ok := v.schemas[doc]
	v.mu.Unlock()
	if !ok {
		return Result{Valid: true}, nil
	}

	instance, err := toJSONInstance(value)
	if err != nil {
		return Result{}, fmt.Errorf("schema: encode %s instance: %w", doc, err)
	}

	if err := compiled.Validate(instance); err != nil {
		return Result{Valid: false, Errors: flattenValidationError(err)}, nil
	}
	return Result{Valid: true}, nil
}

// AssertValid validates value against doc and returns a formatted error
// listing every violation path when invalid (spec §4.11 "assertValid*
// throws with a formatted error path list").
func (v *Validator) AssertValid(doc Document, value any) error {
	result, err := v.Validate(doc, value)
	if err != nil {
		return err
	}
	if result.Valid {
		return nil
	}
	return fmt.Errorf("schema: %s invalid:\n  %s", doc, strings.Join(result.Errors, "\n  "))
}

// forbidUnknownTopLevelKeys sets additionalProperties: false on an
// object-typed schema document when the author left it unset.
func forbidUnknownTopLevelKeys(decoded any) any {
	obj, ok := decoded.(map[string]any)
	if !ok {
		return decoded
	}
	if obj["type"] != "object" {
		return obj
	}
	if _, set := obj["additionalProperties"]; set {
		return obj
	}
	obj["additionalProperties"] = false
	return obj
}

func toJSONInstance(value any) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var instance any
	if err := json.Unmarshal(b, &instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// flattenValidationError renders a jsonschema.ValidationError tree into a
// flat list of "<instance path>: <message>" strings, one per leaf cause.
func flattenValidationError(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := "/" + strings.Join(e.InstanceLocation, "/")
			out = append(out, fmt.Sprintf("%s: %v", path, e.ErrorKind))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	if len(out) == 0 {
		out = []string{ve.Error()}
	}
	return out
}
