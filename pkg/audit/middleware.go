package audit

import (
	"net/http"
)

// Middleware records an audit event for every mutating request. Reads
// are left to the access logs; the audit trail only needs the calls
// that can move funds or change evidence state.
func Middleware(l Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
				_ = l.Record(r.Context(), EventMutation, r.Method, r.URL.Path, map[string]interface{}{
					"remote_addr": r.RemoteAddr,
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}
