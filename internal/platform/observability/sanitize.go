package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultStringLimit = 256
	routeLimit         = 180
	methodLimit        = 10
	actorLimit         = 64
	headerValueLimit   = 128
)

// sanitizeString drops control characters, newlines included, so a value cannot forge
// extra log lines, then truncates it to limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(cleaned) > limit {
		cleaned = string([]rune(cleaned)[:limit])
	}
	return cleaned
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, methodLimit)
}

// SanitizeActor limits actor references written to logs and spans.
func SanitizeActor(actor string) string {
	return sanitizeString(strings.TrimSpace(actor), actorLimit)
}

// SanitizeHeaderValue trims a client supplied header before it is stored on the request context.
func SanitizeHeaderValue(value string) string {
	return strings.TrimSpace(sanitizeString(strings.TrimSpace(value), headerValueLimit))
}
