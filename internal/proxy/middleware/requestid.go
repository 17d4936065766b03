package middleware

import (
	"net/http"

	"github.com/pysugar/key-wallet-nexus/internal/logging"
)

// RequestID attaches a request ID to the context and echoes it back in the
// X-Request-Id response header. An inbound X-Request-Id is honored so callers
// can correlate across hops.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
