package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// SanitizeMetadata reduces a metadata map to primitive-only values, the
// only shape the chunk store accepts. Strings, booleans and numeric types
// pass through; times become RFC3339 strings; anything else is serialized
// to its JSON form, or dropped when that fails. Nil values are dropped.
func SanitizeMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if value == nil {
			continue
		}
		switch v := value.(type) {
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[key] = v
		case time.Time:
			out[key] = v.Format(time.RFC3339)
		case fmt.Stringer:
			out[key] = v.String()
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[key] = string(data)
		}
	}
	return out
}
