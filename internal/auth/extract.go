package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// BearerToken extracts the token from "Authorization: Bearer <token>".
// Returns "" when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if value == "" {
		return ""
	}
	const prefix = "bearer "
	if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(value[len(prefix):])
}

// APIKey extracts an API key, preferring the X-Api-Key header, then the
// api_key / apiKey query parameters, then a bearer token.
func APIKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	query := r.URL.Query()
	if key := query.Get("api_key"); key != "" {
		return key
	}
	if key := query.Get("apiKey"); key != "" {
		return key
	}
	return BearerToken(r)
}

// BasicCredentials decodes "Authorization: Basic <base64>". Malformed input
// returns ok=false; a missing password after the first colon is legal.
func BasicCredentials(r *http.Request) (username, password string, ok bool) {
	value := r.Header.Get("Authorization")
	const prefix = "basic "
	if len(value) <= len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(value[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return username, password, true
}
