package observability

import "unicode"

// Length caps for log and metric label values. Routes are chi patterns and
// stay short; user ids are 24-hex identifiers with headroom for prefixes.
const (
	routeLimit  = 128
	methodLimit = 10
	userIDLimit = 40
)

// sanitizeString strips control characters and caps length so request
// metadata cannot inject into log output or blow up label cardinality.
func sanitizeString(value string, limit int) string {
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

// SanitizeRoute normalizes a chi route pattern for logs and metric labels.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

// SanitizeMethod bounds the HTTP method label.
func SanitizeMethod(method string) string {
	return sanitizeString(method, methodLimit)
}

// SanitizeUserID bounds identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, userIDLimit)
}
