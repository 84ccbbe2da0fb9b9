// Package ui embeds the preview page served at the site root.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:static
var staticFS embed.FS

// Handler serves the embedded page. Paths without a file extension fall back
// to index.html.
func Handler() (http.Handler, error) {
	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean(r.URL.Path)
		if st, statErr := fs.Stat(fsys, strings.TrimPrefix(p, "/")); statErr == nil && !st.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}
		if strings.Contains(path.Base(p), ".") {
			http.NotFound(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		fileServer.ServeHTTP(w, r2)
	}), nil
}
