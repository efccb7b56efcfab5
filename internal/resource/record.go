package resource

import (
	"encoding/json"
	"strconv"
)

// Record is one opaque JSON object as returned by the API.
type Record map[string]any

// ID returns the record's "id" as a string.
// Servers return both numeric and string ids; json.Number and float64 are
// rendered without a fractional part when they are integral.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Clone returns a shallow copy with the top-level keys duplicated.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Prepend returns a new slice with rec at the front.
func Prepend(data []Record, rec Record) []Record {
	out := make([]Record, 0, len(data)+1)
	out = append(out, rec)
	return append(out, data...)
}

// ReplaceByID swaps the record with the given id for rec.
// Returns the new slice and whether a match was found.
func ReplaceByID(data []Record, id string, rec Record) ([]Record, bool) {
	out := make([]Record, len(data))
	copy(out, data)
	for i, have := range out {
		if have.ID() == id {
			out[i] = rec
			return out, true
		}
	}
	return out, false
}

// RemoveByID drops every record carrying the given id.
func RemoveByID(data []Record, id string) []Record {
	out := make([]Record, 0, len(data))
	for _, have := range data {
		if have.ID() != id {
			out = append(out, have)
		}
	}
	return out
}

// DecodeRecords parses a JSON array of objects.
// Anything other than an array decodes as an empty collection.
func DecodeRecords(body []byte) ([]Record, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	items, ok := raw.([]any)
	if !ok {
		return []Record{}, nil
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, Record(obj))
		}
	}
	return out, nil
}
