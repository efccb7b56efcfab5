package resource

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID(t *testing.T) {
	assert.Equal(t, "b1", Record{"id": "b1"}.ID())
	assert.Equal(t, "1700000000000", Record{"id": float64(1700000000000)}.ID())
	assert.Equal(t, "7", Record{"id": json.Number("7")}.ID())
	assert.Equal(t, "3", Record{"id": 3}.ID())
	assert.Equal(t, "", Record{}.ID())
}

func TestPrependDoesNotAlias(t *testing.T) {
	data := []Record{{"id": "a"}}
	out := Prepend(data, Record{"id": "b"})

	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID())
	assert.Equal(t, "a", out[1].ID())
	assert.Len(t, data, 1)
}

func TestReplaceByID(t *testing.T) {
	data := []Record{{"id": "temp_1"}, {"id": "b2"}}

	out, ok := ReplaceByID(data, "temp_1", Record{"id": "srv-1"})
	require.True(t, ok)
	assert.Equal(t, "srv-1", out[0].ID())
	assert.Equal(t, "temp_1", data[0].ID(), "input must not be mutated")

	_, ok = ReplaceByID(data, "missing", Record{"id": "x"})
	assert.False(t, ok)
}

func TestRemoveByID(t *testing.T) {
	out := RemoveByID([]Record{{"id": "a"}, {"id": "b"}}, "a")
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID())
}

func TestDecodeRecords(t *testing.T) {
	out, err := DecodeRecords([]byte(`[{"id":"a"},3,{"id":"b"}]`))
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = DecodeRecords([]byte(`{"error":"not a list"}`))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = DecodeRecords([]byte(`{`))
	assert.Error(t, err)
}

func TestBatchPlaceholder(t *testing.T) {
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	rec := PlaceholderFor(Batches)("temp_1772344800000_abc123xyz", Record{"productType": "Latex Gloves", "shift": "Day"}, now)

	assert.Equal(t, "temp_1772344800000_abc123xyz", rec.ID())
	assert.Equal(t, "TEMP-bc123xyz", rec["batchId"])
	assert.Equal(t, "draft", rec["status"])
	assert.Equal(t, 1, rec["currentStage"])
	assert.Equal(t, "2026-03-01T06:00:00Z", rec["startDate"])
	assert.Equal(t, "Latex Gloves", rec["productType"])
}

func TestBasicPlaceholderCopiesPayload(t *testing.T) {
	payload := Record{"title": "t"}
	rec := PlaceholderFor(Alerts)("temp_1", payload, time.Now())

	assert.Equal(t, "temp_1", rec.ID())
	assert.Equal(t, "t", rec["title"])
	_, hasID := payload["id"]
	assert.False(t, hasID)
}
