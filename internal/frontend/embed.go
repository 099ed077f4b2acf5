// Package frontend serves the read-only browser viewer for the live session.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
)

//go:embed static/*
var staticFiles embed.FS

// Handler serves the viewer assets. Pages are revalidated on every load;
// scripts and styles may be cached briefly.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	files := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch path.Ext(r.URL.Path) {
		case "", ".html":
			w.Header().Set("Cache-Control", "no-cache")
		default:
			w.Header().Set("Cache-Control", "max-age=300")
		}
		files.ServeHTTP(w, r)
	})
}
