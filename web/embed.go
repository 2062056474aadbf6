// Package web embeds the notification dashboard (dist/) and serves it as a
// single-page application (SPA).
//
// Replace dist/ with a richer frontend build if needed; index.html is the
// fallback for every unknown page path.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SPAHandler returns an http.Handler that serves the embedded dashboard.
// Unknown /api/ and /ws/ paths get a JSON 404 instead of the SPA shell.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/")
		if path != "" && path != "index.html" && exists(subFS, path) {
			fileServer.ServeHTTP(w, r)
			return
		}

		// The shell must not be cached so clients pick up new builds.
		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func exists(fsys fs.FS, path string) bool {
	f, err := fsys.Open(path)
	if err != nil {
		return false
	}
	if closeErr := f.Close(); closeErr != nil {
		slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
	}
	return true
}
