package auth

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"case insensitive scheme", "bearer tok", "tok"},
		{"padded", "Bearer   tok  ", "tok"},
		{"missing", "", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := BearerToken(r); got != tt.want {
				t.Errorf("BearerToken = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	r := httptest.NewRequest("GET", "/?api_key=fromquery&apiKey=camel", nil)
	r.Header.Set("X-Api-Key", "fromheader")
	r.Header.Set("Authorization", "Bearer frombearer")
	if got := APIKey(r); got != "fromheader" {
		t.Errorf("header must win, got %q", got)
	}

	r = httptest.NewRequest("GET", "/?api_key=fromquery", nil)
	r.Header.Set("Authorization", "Bearer frombearer")
	if got := APIKey(r); got != "fromquery" {
		t.Errorf("query must beat bearer, got %q", got)
	}

	r = httptest.NewRequest("GET", "/?apiKey=camel", nil)
	if got := APIKey(r); got != "camel" {
		t.Errorf("camelCase param not read, got %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer frombearer")
	if got := APIKey(r); got != "frombearer" {
		t.Errorf("bearer fallback not applied, got %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	if got := APIKey(r); got != "" {
		t.Errorf("expected empty key, got %q", got)
	}
}

func TestBasicCredentials(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.SetBasicAuth("alice", "s3cret")
	user, pass, ok := BasicCredentials(r)
	if !ok || user != "alice" || pass != "s3cret" {
		t.Errorf("got %q/%q ok=%v", user, pass, ok)
	}

	// Password containing a colon splits on the first colon only.
	r = httptest.NewRequest("GET", "/", nil)
	encoded := base64.StdEncoding.EncodeToString([]byte("bob:pa:ss"))
	r.Header.Set("Authorization", "Basic "+encoded)
	user, pass, ok = BasicCredentials(r)
	if !ok || user != "bob" || pass != "pa:ss" {
		t.Errorf("got %q/%q ok=%v", user, pass, ok)
	}

	// Malformed payloads return ok=false.
	for _, header := range []string{"Basic not-base64!!!", "Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon")), "Bearer tok", ""} {
		r = httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if _, _, ok := BasicCredentials(r); ok {
			t.Errorf("header %q must not decode", header)
		}
	}
}
