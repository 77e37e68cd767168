// ABOUTME: Serves the embedded shim and stylesheet with explicit types and cache headers
// ABOUTME: Assets are unversioned, so browsers revalidate on every load

package web

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// mimeFromExt returns the MIME type for a file extension.
// Falls back to the Go standard library's MIME type database,
// then to "application/octet-stream" if unknown.
func mimeFromExt(ext string) string {
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css; charset=utf-8"
	case ".map":
		return "application/json"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// staticHandler serves embedded assets under /static/. The shim must track
// the server's frame protocol, so a stale cached copy is never acceptable.
func staticHandler() http.Handler {
	fileServer := http.FileServerFS(staticFS)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ext := strings.ToLower(path.Ext(r.URL.Path)); ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}
		w.Header().Set("Cache-Control", "no-cache")
		fileServer.ServeHTTP(w, r)
	})
}
