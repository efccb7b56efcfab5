package resource

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
)

// Route binds a resource kind to its REST endpoint and cache slot.
type Route struct {
	Kind     Kind
	Endpoint string
	CacheKey string
	Verbs    []Verb
}

// routes is the dispatch table shared by the facade and the coordinator.
// Only batches expose update and delete on the server.
var routes = map[Kind]Route{
	Batches: {
		Kind:     Batches,
		Endpoint: "/api/batches",
		CacheKey: string(Batches),
		Verbs:    []Verb{VerbCreate, VerbUpdate, VerbDelete},
	},
	QCResults: {
		Kind:     QCResults,
		Endpoint: "/api/qc/results",
		CacheKey: string(QCResults),
		Verbs:    []Verb{VerbCreate},
	},
	Alerts: {
		Kind:     Alerts,
		Endpoint: "/api/alerts",
		CacheKey: string(Alerts),
		Verbs:    []Verb{VerbCreate},
	},
	FieldLatex: {
		Kind:     FieldLatex,
		Endpoint: "/api/latex/field",
		CacheKey: string(FieldLatex),
		Verbs:    []Verb{VerbCreate},
	},
	Gloves: {
		Kind:     Gloves,
		Endpoint: "/api/gloves",
		CacheKey: string(Gloves),
		Verbs:    []Verb{VerbCreate},
	},
}

// Lookup returns the route for a kind.
func Lookup(k Kind) (Route, bool) {
	r, ok := routes[k]
	return r, ok
}

// Routes returns every route ordered by kind name.
func Routes() []Route {
	out := make([]Route, 0, len(routes))
	for _, r := range routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Supports reports whether the server accepts verb for this route.
func (r Route) Supports(v Verb) bool {
	for _, have := range r.Verbs {
		if have == v {
			return true
		}
	}
	return false
}

// Request is a resolved HTTP call for one verb.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Request resolves verb and payload into the HTTP call that applies it.
// Update and delete address the record by the payload's "id" field.
func (r Route) Request(v Verb, payload json.RawMessage) (Request, error) {
	if !r.Supports(v) {
		return Request{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedVerb, v, r.Kind)
	}

	switch v {
	case VerbCreate:
		return Request{Method: http.MethodPost, Path: r.Endpoint, Body: payload}, nil
	case VerbUpdate, VerbDelete:
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return Request{}, fmt.Errorf("decode %s payload: %w", v, err)
		}
		id := rec.ID()
		if id == "" {
			return Request{}, fmt.Errorf("%s on %s: payload has no id", v, r.Kind)
		}
		path := r.Endpoint + "/" + url.PathEscape(id)
		if v == VerbDelete {
			return Request{Method: http.MethodDelete, Path: path}, nil
		}
		return Request{Method: http.MethodPut, Path: path, Body: payload}, nil
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnsupportedVerb, v)
	}
}
