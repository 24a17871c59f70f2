package shield

import (
	"net/http"

	"github.com/hazyhaar/snapexport/idgen"
	"github.com/hazyhaar/snapexport/kit"
)

var newRequestID = idgen.Prefixed("req_", idgen.NanoID(12))

// RequestID puts the transport, a request ID and the client address in the
// request context for kit endpoints. A well-formed incoming X-Request-ID is
// kept; the ID is echoed in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := kit.WithTransport(r.Context(), kit.TransportHTTP)
		ctx = kit.WithRequestID(ctx, id)
		ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
