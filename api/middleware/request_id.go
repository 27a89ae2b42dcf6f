package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/whatsub/notifications/pkg/logger"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

var requestIDRe = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// RequestID tags every request with a correlation id. A caller-supplied id is
// kept when it is short and free of control or separator characters, so a
// producer's id shows up in our logs; anything else is replaced with a fresh
// uuid. The id is echoed on the response and added to every log line written
// for the request.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := inboundRequestID(r)
			w.Header().Set(RequestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func inboundRequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); len(id) <= maxRequestIDLen && requestIDRe.MatchString(id) {
		return id
	}
	return uuid.NewString()
}
