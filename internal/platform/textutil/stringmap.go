package textutil

import "strings"

// CompactAttributes trims keys and values and drops entries where either is empty.
// Message attributes use it so optional identifiers are omitted rather than sent blank.
func CompactAttributes(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
