package server

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// StaticHandler serves asset files from the application root. Lookups go
// through an os.Root, so neither ".." nor a symlink can leave it.
type StaticHandler struct {
	fsys       fs.FS
	fileServer http.Handler
}

// NewStaticHandler opens dir for static serving. A root that cannot be
// opened serves nothing but 404s.
func NewStaticHandler(dir string) *StaticHandler {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return &StaticHandler{}
	}
	fsys := root.FS()
	return &StaticHandler{fsys: fsys, fileServer: http.FileServerFS(fsys)}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.fsys == nil {
		http.NotFound(w, r)
		return
	}
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = "."
	}
	if info, err := fs.Stat(h.fsys, name); err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	h.fileServer.ServeHTTP(w, r)
}
