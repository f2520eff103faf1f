// Package requestid propagates a correlation id through the request context.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"identify/pkg/requestcontext"
)

// Header is the header read from and echoed to clients.
const Header = "X-Request-ID"

const maxLength = 128

// Middleware reuses a sane inbound X-Request-ID or generates a UUID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > maxLength {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
