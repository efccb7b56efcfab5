package resource

import (
	"errors"
	"fmt"
)

// Kind identifies a synchronized resource collection.
// The string value doubles as the action-log table name.
type Kind string

const (
	Batches    Kind = "batches"
	QCResults  Kind = "qc_results"
	Alerts     Kind = "alerts"
	FieldLatex Kind = "field_latex"
	Gloves     Kind = "gloves"
)

// Verb is the mutation a pending action replays.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

var (
	// ErrUnknownKind is returned when a kind has no route.
	ErrUnknownKind = errors.New("unknown resource kind")

	// ErrUnsupportedVerb is returned when a route does not accept a verb.
	ErrUnsupportedVerb = errors.New("unsupported verb")
)

// ParseKind converts a string to a known Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := routes[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// ParseVerb converts a string to a Verb.
func ParseVerb(s string) (Verb, error) {
	switch v := Verb(s); v {
	case VerbCreate, VerbUpdate, VerbDelete:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVerb, s)
	}
}

func (k Kind) String() string { return string(k) }

func (v Verb) String() string { return string(v) }
