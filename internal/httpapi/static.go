package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var embeddedStatic embed.FS

// panelFrameAncestors limits who may embed the panel page.
const panelFrameAncestors = "frame-ancestors 'self' chrome-extension: moz-extension:"

// newStaticHandler serves the panel page. It is loaded inside the extension
// side panel, so every response is uncached and framed only by extensions.
func newStaticHandler() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Security-Policy", panelFrameAncestors)
		files.ServeHTTP(w, r)
	})
}
