package resource

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

// ErrInvalidPayload is returned when a payload fails its kind's schema.
var ErrInvalidPayload = errors.New("invalid payload")

// Validator checks create payloads against the embedded CUE definitions.
// A cue.Context is not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile resource schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

// MustValidator is like NewValidator but panics on error.
// The schema is embedded, so a failure is a build defect.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks a JSON payload for the given kind and verb.
// Only creates carry a full document; update and delete payloads only need an id.
func (v *Validator) Validate(kind Kind, verb Verb, payload []byte) error {
	if verb != VerbCreate {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	def := v.schema.LookupPath(cue.ParsePath("#" + string(kind)))
	if !def.Exists() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	doc := v.ctx.CompileBytes(payload, cue.Filename(string(kind)+".json"))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
	}
	return nil
}
