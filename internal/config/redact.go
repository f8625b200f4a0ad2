package config

import "strings"

// maskedValue replaces sensitive values in redacted views. Full-width
// blocks avoid substring matches against the real value.
const maskedValue = "████████"

// sensitiveMarkers flag a key as sensitive when its lowercased name
// contains any of them.
var sensitiveMarkers = []string{"password", "secret", "api_key", "apikey", "token"}

// SafeConfig returns the merged map with every sensitive value replaced by
// the mask string. For display only; never read real values from it.
func (r *Resolver) SafeConfig() map[string]any {
	return redactMap(r.All())
}

// redactMap masks sensitive keys recursively. Settings are one flat level
// per the data model, but discovered files may nest a module section.
func redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case isSensitiveKey(k):
			out[k] = maskedValue
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = redactMap(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	// database_url embeds credentials in URL form.
	return lower == "database_url"
}
