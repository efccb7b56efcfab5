package resource

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_DispatchTable(t *testing.T) {
	tests := []struct {
		kind     Kind
		endpoint string
	}{
		{Batches, "/api/batches"},
		{QCResults, "/api/qc/results"},
		{Alerts, "/api/alerts"},
		{FieldLatex, "/api/latex/field"},
		{Gloves, "/api/gloves"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			r, ok := Lookup(tt.kind)
			require.True(t, ok)
			assert.Equal(t, tt.endpoint, r.Endpoint)
			assert.Equal(t, string(tt.kind), r.CacheKey)
			assert.True(t, r.Supports(VerbCreate))
		})
	}

	_, ok := Lookup(Kind("pallets"))
	assert.False(t, ok)
}

func TestRoutes_SortedByKind(t *testing.T) {
	rs := Routes()
	require.Len(t, rs, 5)
	for i := 1; i < len(rs); i++ {
		assert.Less(t, string(rs[i-1].Kind), string(rs[i].Kind))
	}
}

func TestRouteRequest_Create(t *testing.T) {
	r, _ := Lookup(Alerts)
	body := json.RawMessage(`{"title":"pH drift"}`)

	req, err := r.Request(VerbCreate, body)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/alerts", req.Path)
	assert.JSONEq(t, `{"title":"pH drift"}`, string(req.Body))
}

func TestRouteRequest_UpdateAndDeleteAddressByID(t *testing.T) {
	r, _ := Lookup(Batches)

	req, err := r.Request(VerbUpdate, json.RawMessage(`{"id":"b 1","shift":"Night"}`))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/api/batches/b%201", req.Path)
	assert.NotEmpty(t, req.Body)

	req, err = r.Request(VerbDelete, json.RawMessage(`{"id":42}`))
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/api/batches/42", req.Path)
	assert.Nil(t, req.Body)
}

func TestRouteRequest_MissingID(t *testing.T) {
	r, _ := Lookup(Batches)
	_, err := r.Request(VerbDelete, json.RawMessage(`{}`))
	assert.ErrorContains(t, err, "payload has no id")
}

func TestRouteRequest_UnsupportedVerb(t *testing.T) {
	r, _ := Lookup(Gloves)
	_, err := r.Request(VerbUpdate, json.RawMessage(`{"id":"g1"}`))
	assert.ErrorIs(t, err, ErrUnsupportedVerb)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("field_latex")
	require.NoError(t, err)
	assert.Equal(t, FieldLatex, k)

	_, err = ParseKind("pallets")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseVerb(t *testing.T) {
	v, err := ParseVerb("delete")
	require.NoError(t, err)
	assert.Equal(t, VerbDelete, v)

	_, err = ParseVerb("upsert")
	assert.ErrorIs(t, err, ErrUnsupportedVerb)
}
