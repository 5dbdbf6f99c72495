package middleware

import (
	"net/http"

	"github.com/phrazzld/imageworks-api/internal/api/shared"
)

// Trace attaches a random trace ID to every request context so log lines
// and error responses for one request can be correlated.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
