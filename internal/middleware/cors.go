// Package middleware provides HTTP middleware for the dutnotify API.
package middleware

import (
	"net/http"
	"strings"
)

// CORS headers for the device-scoped API. Last-Event-ID lets browsers resume
// the notification stream; X-Device-ID carries identity for non-cookie clients.
var (
	allowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}, ", ")
	allowHeaders  = "Content-Type, Last-Event-ID, X-Device-ID"
	exposeHeaders = "X-Device-ID"
)

// CORS returns middleware that handles CORS headers. "*" allows any origin
// but never with credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, trusted := explicit[origin]

			if origin != "" && (trusted || wildcard) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
				h.Add("Vary", "Origin")
				// Echoing a wildcard match with credentials would enable CSRF.
				if trusted {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
