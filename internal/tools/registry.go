// Package tools holds the allowlisted tool registry. Triage output may
// suggest tool invocations, but only tools registered here, with params that
// validate against the tool's schema, ever run. Results are validated
// against the evidence bundle contract before anything is stored.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/schema"
)

// ErrNotAllowed is returned for tool names outside the registry.
var ErrNotAllowed = errors.New("tool not allowed")

// ErrInvalidParams is returned when params fail the tool's schema.
var ErrInvalidParams = errors.New("invalid tool params")

// ErrInvalidResult is returned when a tool's output fails the evidence
// bundle contract. The result is discarded, never stored.
var ErrInvalidResult = errors.New("invalid tool result")

// Params is a tool's decoded parameter object.
type Params map[string]any

// String returns the string value of a param key, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Spec declares one allowlisted tool: its parameter schema, the contract its
// result must satisfy, and the function that produces an evidence bundle.
// ResultSchema names a contract registered in the validator; when empty it
// defaults to the evidence bundle contract.
type Spec struct {
	Name         string
	Description  string
	ParamSchema  map[string]any
	ResultSchema string
	Run          func(ctx context.Context, p Params) (evidence.Bundle, error)
}

// Registry is the immutable tool allowlist, built once at startup.
type Registry struct {
	validator *schema.Validator
	specs     map[string]Spec
}

// NewRegistry builds a registry from the given specs. Duplicate names are a
// configuration error.
func NewRegistry(validator *schema.Validator, specs ...Spec) (*Registry, error) {
	r := &Registry{validator: validator, specs: make(map[string]Spec, len(specs))}
	for _, spec := range specs {
		if spec.Name == "" || spec.Run == nil {
			return nil, fmt.Errorf("tool spec missing name or run function")
		}
		if _, exists := r.specs[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", spec.Name)
		}
		if spec.ResultSchema == "" {
			spec.ResultSchema = schema.EvidenceBundle
		}
		r.specs[spec.Name] = spec
	}
	return r, nil
}

// Names returns the allowlisted tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is allowlisted.
func (r *Registry) Has(name string) bool {
	_, ok := r.specs[name]
	return ok
}

// Invoke runs one allowlisted tool. Params are validated before Run, the
// result after. A bundle that fails the contract is discarded and the
// invocation reported failed.
func (r *Registry) Invoke(ctx context.Context, name string, p Params) (evidence.Bundle, error) {
	spec, ok := r.specs[name]
	if !ok {
		return evidence.Bundle{}, fmt.Errorf("%w: %q", ErrNotAllowed, name)
	}

	if p == nil {
		p = Params{}
	}
	if spec.ParamSchema != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return evidence.Bundle{}, fmt.Errorf("encoding params for %s: %w", name, err)
		}
		if err := r.validator.ValidateAny(spec.ParamSchema, raw); err != nil {
			return evidence.Bundle{}, fmt.Errorf("%w for %s: %v", ErrInvalidParams, name, err)
		}
	}

	bundle, err := spec.Run(ctx, p)
	if err != nil {
		return evidence.Bundle{}, fmt.Errorf("running %s: %w", name, err)
	}

	raw, err := json.Marshal(bundle)
	if err != nil {
		return evidence.Bundle{}, fmt.Errorf("encoding result of %s: %w", name, err)
	}
	if err := r.validator.Validate(spec.ResultSchema, raw); err != nil {
		return evidence.Bundle{}, fmt.Errorf("%w from %s: %v", ErrInvalidResult, name, err)
	}

	return bundle, nil
}

// windowParamProperties is the param fragment shared by tools that query a
// time window. The worker fills window_start/window_end from the derived
// investigation window.
func windowParamProperties() map[string]any {
	return map[string]any{
		"window_start": map[string]any{"type": "string"},
		"window_end":   map[string]any{"type": "string"},
		"tenant":       map[string]any{"type": "string"},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func mergeProps(base map[string]any, extra map[string]any) map[string]any {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
