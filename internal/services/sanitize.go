package services

import (
	"net/http"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
	"x-api-key":     true,
	"x-auth-token":  true,
}

var sensitiveKeyParts = []string{"password", "token", "secret", "api_key", "apikey", "authorization", "credit_card"}

// SanitizeHeaders flattens h and redacts credentials.
func SanitizeHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// SanitizeBody redacts sensitive keys in a decoded JSON value, recursing into
// nested objects and arrays. The input is not modified.
func SanitizeBody(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = SanitizeBody(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = SanitizeBody(val)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}
