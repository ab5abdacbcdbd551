package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/funcbase/gateway/internal/cache"
	"github.com/funcbase/gateway/internal/errors"
	"github.com/funcbase/gateway/internal/logging"
	"github.com/funcbase/gateway/internal/upstream"
)

// ingressStrip is the set of request headers never forwarded upstream.
// Authorization and x-api-key are consumed by the auth stage; x-invoke-data
// may be user-supplied and must never impersonate the gateway. Forwarding
// metadata is rebuilt from the observed peer, so inbound x-forwarded-* and
// x-real-ip are dropped too.
var ingressStrip = map[string]struct{}{
	"host":              {},
	"authorization":     {},
	"x-api-key":         {},
	"x-real-ip":         {},
	"x-invoke-data":     {},
	"connection":        {},
	"transfer-encoding": {},
	"te":                {},
	"trailer":           {},
	"upgrade":           {},
}

// responseStrip is the hop-by-hop set removed from upstream responses.
var responseStrip = []string{
	"Transfer-Encoding",
	"Connection",
	"Keep-Alive",
	"Trailer",
	"Upgrade",
}

// clientIP is the observed peer address with any IPv4-mapped-IPv6 prefix
// stripped, so 127.0.0.1 and ::ffff:127.0.0.1 read identically.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return strings.TrimPrefix(host, "::ffff:")
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// forwardHeaders builds the outbound header set: everything from the client
// except the strip list, fresh forwarding metadata, then the gateway
// identity headers.
func forwardHeaders(r *http.Request, identity http.Header, ip string) http.Header {
	out := make(http.Header, len(r.Header)+6)
	for k, vv := range r.Header {
		lk := strings.ToLower(k)
		if _, drop := ingressStrip[lk]; drop || strings.HasPrefix(lk, "x-forwarded-") {
			continue
		}
		out[k] = vv
	}

	out.Set("X-Forwarded-For", ip)
	out.Set("X-Real-IP", ip)
	out.Set("X-Forwarded-Host", r.Host)
	out.Set("X-Forwarded-Proto", requestScheme(r))

	for k, vv := range identity {
		out[k] = vv
	}
	return out
}

// proxy streams the request to the execution service and the response back.
// The upstream call runs under the request context, so a client disconnect
// cancels it; the proxy timeout bounds the whole exchange.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, resolved *cache.Resolved) {
	ip := clientIP(r)

	identity, err := h.upstream.GatewayHeaders(ip)
	if err != nil {
		logging.Error("building gateway identity headers", zap.Error(err))
		errors.ErrGateway.WithDetail(err.Error()).WriteJSON(w)
		return
	}

	// Route path params override colliding query parameters.
	query := r.URL.Query()
	for name, value := range resolved.PathParams {
		query.Set(name, value)
	}

	target, err := h.upstream.ResolveURL(upstream.BuildInvokeURL(resolved.Route.FunctionID, resolved.PathSuffix, query))
	if err != nil {
		errors.ErrGateway.WithDetail(err.Error()).WriteJSON(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.upstream.ProxyTimeout())
	defer cancel()

	// The body is forwarded raw; no decompression, no buffering.
	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           target,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          target.Host,
	}).WithContext(ctx)
	proxyReq.Header = forwardHeaders(r, identity, ip)

	resp, err := h.upstream.Transport().RoundTrip(proxyReq)
	if err != nil {
		// Headers have not been sent yet, so the client still gets a clean 502.
		logging.Warn("upstream call failed",
			zap.String("function_id", resolved.Route.FunctionID),
			zap.Error(err),
		)
		errors.ErrGateway.WithDetail(err.Error()).WriteJSON(w)
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	for k, vv := range resp.Header {
		dst[k] = vv
	}
	for _, k := range responseStrip {
		dst.Del(k)
	}
	w.WriteHeader(resp.StatusCode)

	streamBody(w, resp.Body)
}

// streamBody copies the upstream body to the client, flushing after every
// frame so long-lived streams are delivered as they arrive. A failed write
// means the client went away; the deferred cancel aborts the upstream read.
func streamBody(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				logging.Debug("upstream stream ended early", zap.Error(err))
			}
			return
		}
	}
}
