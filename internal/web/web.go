package web

import (
	"embed"
	"io/fs"
	"net/http"
)

const (
	RobotsTagHeader = "X-Robots-Tag"
	RobotsTagValue  = "noindex, nofollow"
)

//go:embed index.html
var indexHTML []byte

//go:embed static
var staticFiles embed.FS

// Handler serves the landing page at / and the assets under /static/.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))

	mux := http.NewServeMux()
	mux.Handle("/static/", static)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(indexHTML)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RobotsTagHeader, RobotsTagValue)
		mux.ServeHTTP(w, r)
	})
}
