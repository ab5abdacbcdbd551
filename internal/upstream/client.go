// Package upstream is the pre-configured HTTP client for the function
// execution service. It owns the gateway identity attestation and the
// /invoke URL scheme.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/funcbase/gateway/internal/config"
)

const (
	// MarkerHeader tells the execution service the call came through the
	// gateway rather than directly from a client.
	MarkerHeader = "x-gateway-request"
	// IdentityHeader carries the short-lived signed client attestation.
	IdentityHeader = "x-invoke-data"

	identityTTL = 60 * time.Second
)

// Client talks to the execution service.
type Client struct {
	baseURL          *url.URL
	secret           []byte
	transport        http.RoundTripper
	middlewareClient *http.Client
	proxyTimeout     time.Duration
	now              func() time.Time
}

// New creates a client from configuration.
func New(cfg config.UpstreamConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing execution service URL: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	middlewareTimeout := cfg.MiddlewareTimeout
	if middlewareTimeout <= 0 {
		middlewareTimeout = 5 * time.Second
	}
	proxyTimeout := cfg.ProxyTimeout
	if proxyTimeout <= 0 {
		proxyTimeout = 30 * time.Second
	}

	var secret []byte
	if cfg.InternalSecret != "" {
		secret = []byte(cfg.InternalSecret)
	}

	return &Client{
		baseURL:          base,
		secret:           secret,
		transport:        transport,
		middlewareClient: &http.Client{Transport: transport, Timeout: middlewareTimeout},
		proxyTimeout:     proxyTimeout,
		now:              time.Now,
	}, nil
}

// ProxyTimeout is the per-call deadline for proxied requests.
func (c *Client) ProxyTimeout() time.Duration {
	return c.proxyTimeout
}

// Transport returns the shared round tripper for streaming proxy calls.
// Deadlines come from the request context, never a client-wide timeout,
// so long responses can stream.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// BuildInvokeURL renders the invoke path for a function. It is a pure
// function: identical inputs produce byte-identical output (url.Values
// encodes in sorted key order).
func BuildInvokeURL(functionID, pathSuffix string, query url.Values) string {
	var b strings.Builder
	b.WriteString("/invoke/")
	b.WriteString(functionID)
	if pathSuffix != "" && !strings.HasPrefix(pathSuffix, "/") {
		b.WriteByte('/')
	}
	b.WriteString(pathSuffix)
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	return b.String()
}

// ResolveURL makes an invoke path absolute against the execution service.
func (c *Client) ResolveURL(invokePath string) (*url.URL, error) {
	ref, err := url.Parse(invokePath)
	if err != nil {
		return nil, err
	}
	return c.baseURL.ResolveReference(ref), nil
}

// GatewayHeaders builds the identity headers added to every upstream call.
// Without a shared secret (dev mode) only the marker header is set and the
// upstream is expected to trust loopback traffic.
func (c *Client) GatewayHeaders(clientIP string) (http.Header, error) {
	h := make(http.Header, 2)
	h.Set(MarkerHeader, "1")

	if len(c.secret) == 0 {
		return h, nil
	}

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"clientIp": clientIP,
		"iat":      now.Unix(),
		"exp":      now.Add(identityTTL).Unix(),
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("signing gateway identity token: %w", err)
	}
	h.Set(IdentityHeader, signed)
	return h, nil
}

// authorizeRequest is the JSON body sent to middleware auth functions. The
// actual request body is never forwarded to authorizers.
type authorizeRequest struct {
	Path    string            `json:"path"`
	Query   map[string]string `json:"query"`
	Headers map[string]string `json:"headers"`
}

type authorizeResponse struct {
	Allow bool `json:"allow"`
}

// InvokeAuthorizer calls a middleware auth function with request metadata
// and reports whether it allowed the request. Transport errors, non-2xx
// statuses, and malformed bodies all surface as errors so callers fail
// closed.
func (c *Client) InvokeAuthorizer(ctx context.Context, functionID, path string, query url.Values, headers http.Header, clientIP string) (bool, error) {
	payload := authorizeRequest{
		Path:    path,
		Query:   flattenValues(query),
		Headers: flattenHeader(headers),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	target, err := c.ResolveURL(BuildInvokeURL(functionID, "", nil))
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	identity, err := c.GatewayHeaders(clientIP)
	if err != nil {
		return false, err
	}
	for k, vv := range identity {
		req.Header[k] = vv
	}

	resp, err := c.middlewareClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("middleware auth call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("middleware auth returned status %d", resp.StatusCode)
	}

	var decision authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return false, fmt.Errorf("decoding middleware auth response: %w", err)
	}
	return decision.Allow, nil
}

func flattenValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, vv := range values {
		if len(vv) > 0 {
			out[k] = vv[0]
		}
	}
	return out
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		out[strings.ToLower(k)] = strings.Join(vv, ", ")
	}
	return out
}
