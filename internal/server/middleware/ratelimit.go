package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// LoginRateLimit throttles the unauthenticated login endpoint by client IP.
// Authenticated traffic is limited per key by the gateway instead.
func LoginRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
