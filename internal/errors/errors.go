package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// GatewayError is an error the gateway reports to clients as JSON. The body
// shape is {"success":false,"message":...} with an optional "error" detail
// for upstream failures.
type GatewayError struct {
	Code       int    `json:"-"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Detail     string `json:"error,omitempty"`
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error body and status to the response. The common
// singletons are pre-serialized so the hot path does not re-encode them.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Errors returned at the handler stages, in pipeline order.
var (
	ErrNoRouteMatched = &GatewayError{
		Code:    http.StatusNotFound,
		Message: "No route matched",
	}

	ErrMethodNotAllowed = &GatewayError{
		Code:    http.StatusMethodNotAllowed,
		Message: "Method not allowed",
	}

	ErrUnauthorized = &GatewayError{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized",
	}

	ErrNoUpstreamFunction = &GatewayError{
		Code:    http.StatusBadGateway,
		Message: "No upstream function configured for this route",
	}

	ErrGateway = &GatewayError{
		Code:    http.StatusBadGateway,
		Message: "Gateway error",
	}

	ErrInternalServer = &GatewayError{
		Code:    http.StatusInternalServerError,
		Message: "Internal server error",
	}
)

var preSerialized map[*GatewayError][]byte

func init() {
	bases := []*GatewayError{
		ErrNoRouteMatched, ErrMethodNotAllowed, ErrUnauthorized,
		ErrNoUpstreamFunction, ErrGateway, ErrInternalServer,
	}
	preSerialized = make(map[*GatewayError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a GatewayError with the given status and client message.
func New(code int, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// Wrap attaches an underlying error and surfaces its text in the "error"
// field of the JSON body.
func Wrap(err error, code int, message string) *GatewayError {
	return &GatewayError{
		Code:       code,
		Message:    message,
		Detail:     err.Error(),
		underlying: err,
	}
}

// WithDetail returns a copy carrying a client-visible detail string.
func (e *GatewayError) WithDetail(detail string) *GatewayError {
	return &GatewayError{
		Code:       e.Code,
		Message:    e.Message,
		Detail:     detail,
		underlying: e.underlying,
	}
}

// AsGatewayError extracts a *GatewayError if err is one.
func AsGatewayError(err error) (*GatewayError, bool) {
	ge, ok := err.(*GatewayError)
	return ge, ok
}
