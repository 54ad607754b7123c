package server

import "net/http"

// uploadPath is the only POST path that is not treated as a form submission.
const uploadPath = "/upload"

// dispatch picks exactly one responder per request from method and path.
// GET serves static files, POST /upload stores uploads, every other POST is
// a form submission.
func (s *Server) dispatch() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.handleStatic(w, r)
		case http.MethodPost:
			if r.URL.Path == uploadPath {
				s.handleUpload(w, r)
				return
			}
			s.handleForm(w, r)
		default:
			s.handleInvalid(w, r)
		}
	})
}

func (s *Server) handleInvalid(w http.ResponseWriter, r *http.Request) {
	Debug("invalid_request", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
	w.Header().Set("Allow", "GET, POST")
	textError(w, "invalid request", http.StatusMethodNotAllowed)
}
