// Package schema holds the fixed JSON contracts for triage records, evidence
// bundles, and final reports, and validates payloads against them.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// Contract names registered in the validator.
const (
	Triage         = "triage"
	EvidenceBundle = "evidence_bundle"
	FinalReport    = "final_report"
)

// ValidationError reports a payload that does not match its contract.
type ValidationError struct {
	Contract string
	Detail   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload does not match %s contract: %s", e.Contract, e.Detail)
}

// Validator holds the compiled contract schemas. Compile once at startup;
// Validate is safe for concurrent use.
type Validator struct {
	compiled map[string]*jsonschema.Schema

	mu     sync.Mutex
	inline map[string]*jsonschema.Schema
}

// NewValidator compiles all embedded contract schemas.
func NewValidator() (*Validator, error) {
	entries, err := schemasFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schemas: %w", err)
	}

	v := &Validator{
		compiled: make(map[string]*jsonschema.Schema, len(entries)),
		inline:   make(map[string]*jsonschema.Schema),
	}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".schema.json")
		raw, err := schemasFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", entry.Name(), err)
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(entry.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", entry.Name(), err)
		}
		compiled, err := compiler.Compile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", entry.Name(), err)
		}
		v.compiled[name] = compiled
	}
	return v, nil
}

// Contracts returns the registered contract names in sorted order.
func (v *Validator) Contracts() []string {
	names := make([]string, 0, len(v.compiled))
	for name := range v.compiled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks raw JSON against the named contract.
// Returns *ValidationError when the payload does not match.
func (v *Validator) Validate(contract string, data []byte) error {
	compiled, ok := v.compiled[contract]
	if !ok {
		return fmt.Errorf("unknown contract %q", contract)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return &ValidationError{Contract: contract, Detail: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if err := compiled.Validate(instance); err != nil {
		return &ValidationError{Contract: contract, Detail: err.Error()}
	}
	return nil
}

// ValidateValue marshals a Go value and checks it against the named contract.
func (v *Validator) ValidateValue(contract string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", contract, err)
	}
	return v.Validate(contract, data)
}

// ValidateAny checks an arbitrary schema document (given as a Go map, the way
// tool parameter schemas are declared) against a payload. Compiled schemas are
// cached by their serialized form, so repeated tool invocations reuse them.
func (v *Validator) ValidateAny(schemaDoc map[string]any, data []byte) error {
	b, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("marshalling schema: %w", err)
	}

	compiled, err := v.compileInline(b)
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return &ValidationError{Contract: "inline", Detail: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if err := compiled.Validate(instance); err != nil {
		return &ValidationError{Contract: "inline", Detail: err.Error()}
	}
	return nil
}

func (v *Validator) compileInline(doc []byte) (*jsonschema.Schema, error) {
	key := string(doc)

	v.mu.Lock()
	defer v.mu.Unlock()
	if compiled, ok := v.inline[key]; ok {
		return compiled, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("adding schema: %w", err)
	}
	compiled, err := compiler.Compile("inline.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	v.inline[key] = compiled
	return compiled, nil
}

// IsValidation reports whether err is a contract violation rather than an
// infrastructure failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
