package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{"explicit origin", []string{"http://localhost:5173"}, "http://localhost:5173", http.MethodGet, "http://localhost:5173", "true", http.StatusTeapot},
		{"wildcard", []string{"*"}, "http://evil.test", http.MethodGet, "http://evil.test", "", http.StatusTeapot},
		{"rejected", []string{"http://localhost:5173"}, "http://evil.test", http.MethodGet, "", "", http.StatusTeapot},
		{"preflight", []string{"http://localhost:5173"}, "http://localhost:5173", http.MethodOptions, "http://localhost:5173", "true", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/settings", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}
