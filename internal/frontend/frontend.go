package frontend

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// ErrNoIndex is returned when the directory has no index.html.
var ErrNoIndex = errors.New("frontend: index.html not found")

// Handler serves the files in dir with index.html fallback.
func Handler(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("frontend dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("frontend dir %s is not a directory", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err != nil {
		return nil, fmt.Errorf("%w in %s", ErrNoIndex, dir)
	}

	fileSystem := http.Dir(dir)
	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Bundlers hash chunk names, so only the shell needs revalidating.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		upath := path.Clean("/" + r.URL.Path)
		if upath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		f, err := fileSystem.Open(upath)
		if err != nil {
			r.URL.Path = "/"
			fileServer.ServeHTTP(w, r)
			return
		}
		f.Close()
		fileServer.ServeHTTP(w, r)
	}), nil
}
