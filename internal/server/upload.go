package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

// hookTimeout bounds the post-store hooks of one upload request.
const hookTimeout = 30 * time.Second

// StoredFileHook is run for every file an upload request stored. Hooks
// mirror, audit or announce the file; a failing hook is logged and never
// changes the response.
type StoredFileHook interface {
	Name() string
	FileStored(ctx context.Context, f FileDescriptor) error
}

// handleUpload handles POST /upload: parses the multipart body into fields
// and stored files, runs the stored-file hooks and answers with
// {"fields": ..., "files": ...}.
//
// Parse failures answer with the status carried by the UploadError (413 for
// size limits, 400 for malformed bodies) and a plain text message.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rid := RequestIDFromContext(r.Context())

	if !s.cfg.Guard.Allow(r) {
		Warn("upload_unauthorized", map[string]any{
			"request_id": rid,
			"ip":         getClientIPForLogging(r),
		})
		GetMetrics().RecordUploadError()
		textError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	res, err := ParseUpload(r, s.cfg.Upload)
	if err != nil {
		status := http.StatusBadRequest
		var uerr *UploadError
		if errors.As(err, &uerr) {
			status = uerr.HTTPStatus()
		}
		Error("upload_rejected", map[string]any{
			"request_id": rid,
			"status":     status,
		}, err)
		GetMetrics().RecordUploadError()
		textError(w, err.Error(), status)
		return
	}

	var total int64
	stored := res.StoredFiles()
	for _, f := range stored {
		total += f.Size
	}
	Info("upload_stored", map[string]any{
		"request_id": rid,
		"files":      len(stored),
		"size":       humanize.IBytes(uint64(total)),
	})

	s.runHooks(r.Context(), stored)
	GetMetrics().RecordUpload(len(stored), total, time.Since(start))

	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		Error("upload_encode_failed", map[string]any{"request_id": rid}, err)
		textError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) runHooks(parent context.Context, files []FileDescriptor) {
	if len(s.cfg.Hooks) == 0 || len(files) == 0 {
		return
	}

	// Hooks finish even if the client goes away after the body was read.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), hookTimeout)
	defer cancel()

	for _, f := range files {
		for _, h := range s.cfg.Hooks {
			if err := h.FileStored(ctx, f); err != nil {
				GetMetrics().RecordHookFailure()
				Error("upload_hook_failed", map[string]any{
					"request_id": RequestIDFromContext(parent),
					"hook":       h.Name(),
					"file":       f.NewFilename,
				}, err)
			}
		}
	}
}
