// Package shield provides the HTTP middleware in front of the export API:
// security headers, a JSON body cap, request IDs and per-client rate
// limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.NewRateLimiter(10, time.Minute, "/healthz")) {
//	    r.Use(mw)
//	}
package shield

import (
	"net/http"
)

// MaxBody is the default request body cap of DefaultStack.
const MaxBody int64 = 64 * 1024

// DefaultStack returns the standard middleware stack. rl may be nil.
func DefaultStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(MaxBody),
		RequestID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
