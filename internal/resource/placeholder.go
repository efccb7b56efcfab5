package resource

import "time"

// Placeholder builds the optimistic record shown while a create is queued.
type Placeholder func(tempID string, payload Record, now time.Time) Record

// PlaceholderFor returns the placeholder builder for a kind.
func PlaceholderFor(k Kind) Placeholder {
	if k == Batches {
		return batchPlaceholder
	}
	return basicPlaceholder
}

func basicPlaceholder(tempID string, payload Record, _ time.Time) Record {
	rec := payload.Clone()
	rec["id"] = tempID
	return rec
}

// batchPlaceholder mirrors a freshly created draft batch so list views can
// render it before the server assigns a real batch number.
func batchPlaceholder(tempID string, payload Record, now time.Time) Record {
	rec := basicPlaceholder(tempID, payload, now)

	suffix := tempID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	rec["batchId"] = "TEMP-" + suffix
	rec["startDate"] = now.UTC().Format(time.RFC3339)
	rec["status"] = "draft"
	rec["currentStage"] = 1
	rec["stagesCompleted"] = 0
	rec["progressPercentage"] = 0
	rec["operator"] = map[string]any{
		"id":       "temp",
		"fullName": "Temp User",
		"email":    "temp@temp.com",
	}
	rec["_count"] = map[string]any{
		"alerts":    0,
		"qcResults": 0,
	}
	return rec
}
