// Package textutil normalises free-text input such as submitted buyer fields.
package textutil

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

const maxFieldLength = 2000

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictOnce.Do(func() { strictPolicy = bluemonday.StrictPolicy() })
	return strictPolicy
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// PlainText strips all markup from value and returns the trimmed, unescaped text, cut to
// a bounded length.
func PlainText(value string) string {
	cleaned := html.UnescapeString(policy().Sanitize(value))
	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > maxFieldLength {
		cleaned = string(runes[:maxFieldLength])
	}
	return cleaned
}

// SanitizeStringMap normalises values like NormalizeStringMap and reduces every value to
// plain text.
func SanitizeStringMap(values map[string]string) map[string]string {
	normalised := NormalizeStringMap(values)
	for key, value := range normalised {
		normalised[key] = PlainText(value)
	}
	return normalised
}
