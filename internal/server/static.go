package server

import (
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
)

// contentTypeFor maps the few extensions the site is built from. Anything
// else is left to net/http content sniffing.
func contentTypeFor(ext string) string {
	switch ext {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	default:
		return ""
	}
}

// resolveStaticPath joins a request path to root. The path is cleaned as a
// rooted path first, so ".." segments can never climb above root.
func resolveStaticPath(root, urlPath string) string {
	return filepath.Join(root, filepath.FromSlash(path.Clean("/"+urlPath)))
}

// handleStatic streams a file from the public dir. The file is opened and
// stat'ed before any header is written, so a failure always ends in 404.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := resolveStaticPath(s.cfg.PublicDir, r.URL.Path)

	f, err := os.Open(name)
	if err != nil {
		s.staticNotFound(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		s.staticNotFound(w, r, err)
		return
	}
	if fi.IsDir() {
		s.staticNotFound(w, r, nil)
		return
	}

	if ct := contentTypeFor(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))

	// The first Write sends 200 and, for unmapped extensions, the sniffed
	// content type.
	n, err := io.Copy(w, f)
	if err != nil {
		Warn("static_copy_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"bytes":      n,
			"error":      err.Error(),
		})
	}
	GetMetrics().RecordStatic(n)
}

func (s *Server) staticNotFound(w http.ResponseWriter, r *http.Request, err error) {
	fields := map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
	}
	if err != nil && !os.IsNotExist(err) {
		fields["error"] = err.Error()
	}
	Debug("static_not_found", fields)

	GetMetrics().RecordStaticNotFound()
	textError(w, "file not found", http.StatusNotFound)
}

// textError writes a plain text error body without the trailing newline
// http.Error adds.
func textError(w http.ResponseWriter, msg string, code int) {
	w.Header().Del("Content-Length")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}
