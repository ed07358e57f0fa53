package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 128
)

// RequestID keeps a caller supplied X-Request-Id when it is short printable
// ASCII and mints a uuid otherwise. The id is echoed on the response and
// attached to the request's log fields.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if !printableID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			if logg != nil {
				r = r.WithContext(logg.WithRequestID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func printableID(id string) bool {
	return id != "" && len(id) <= maxRequestIDLen &&
		strings.IndexFunc(id, func(c rune) bool { return c <= ' ' || c > '~' }) < 0
}
