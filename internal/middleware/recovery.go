package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/funcbase/gateway/internal/errors"
	"github.com/funcbase/gateway/internal/logging"
)

// Recovery converts panics into 500 responses so a single bad request can
// never take down the process.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logging.Error("panic recovered",
						zap.Any("panic", v),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					errors.ErrInternalServer.WriteJSON(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
