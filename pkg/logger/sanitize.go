package logger

import (
	"strings"
)

// Redacted replaces the value of any sensitive context field
const Redacted = "[REDACTED]"

// sensitiveFragments mark a context key as secret when contained in it, case-insensitively
var sensitiveFragments = []string{"password", "secret", "token", "key", "auth"}

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// Mask all but the TLD
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// MaskIdentifier masks a login identifier. Email addresses go through
// SanitizedEmail; login ids keep their first character.
func MaskIdentifier(identifier string) string {
	if identifier == "" {
		return ""
	}
	if strings.Contains(identifier, "@") {
		return SanitizedEmail(identifier)
	}
	if len(identifier) == 1 {
		return "*"
	}
	return identifier[:1] + strings.Repeat("*", len(identifier)-1)
}

// IsSensitiveKey reports whether a field name looks like it carries a credential
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// RedactContext returns a copy of ctx with sensitive values replaced, descending
// into nested maps and slices. The input is never modified.
func RedactContext(ctx map[string]interface{}) map[string]interface{} {
	if ctx == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(ctx))
	for k, v := range ctx {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return RedactContext(val)
	case map[string]string:
		m := make(map[string]interface{}, len(val))
		for k, s := range val {
			m[k] = s
		}
		return RedactContext(m)
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = redactValue(item)
		}
		return items
	default:
		return v
	}
}

// SanitizeQueryString reports whether a query string carries sensitive
// parameters and should be dropped from request logs
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password", "token", "secret", "api_key", "apikey",
		"email", "identifier", "auth", "csrf",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
