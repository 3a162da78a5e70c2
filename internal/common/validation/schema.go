// Package validation checks inbound JSON documents against named JSON schemas.
package validation

import (
	"fmt"
	"sort"
	"strings"

	apperrors "civic-notify/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// Registry holds compiled schemas keyed by name.
type Registry struct {
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry compiles every schema in sources. A schema that does not compile
// is a programming error and is reported immediately.
func NewRegistry(sources map[string]string) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*gojsonschema.Schema, len(sources))}
	for name, src := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		r.schemas[name] = schema
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on a bad schema.
func MustRegistry(sources map[string]string) *Registry {
	r, err := NewRegistry(sources)
	if err != nil {
		panic(err)
	}
	return r
}

// Has reports whether a schema with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.schemas[name]
	return ok
}

// ValidateBytes validates a raw JSON document against the named schema.
func (r *Registry) ValidateBytes(name string, doc []byte) error {
	if len(doc) == 0 {
		doc = []byte("null")
	}
	return r.validate(name, gojsonschema.NewBytesLoader(doc))
}

// ValidateGo validates an already decoded value against the named schema.
func (r *Registry) ValidateGo(name string, doc interface{}) error {
	return r.validate(name, gojsonschema.NewGoLoader(doc))
}

func (r *Registry) validate(name string, loader gojsonschema.JSONLoader) error {
	schema, ok := r.schemas[name]
	if !ok {
		return apperrors.NewValidationErrorf("unknown schema %q", name)
	}

	result, err := schema.Validate(loader)
	if err != nil {
		return apperrors.NewValidationErrorf("malformed document: %v", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		sort.Strings(errs)
		return apperrors.NewValidationError(strings.Join(errs, "; "))
	}

	return nil
}
