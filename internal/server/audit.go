package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one row of upload_audit.
type AuditRecord struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id,omitempty"`
	FieldName        string    `json:"field_name"`
	OriginalFilename string    `json:"original_filename"`
	StoredPath       string    `json:"stored_path"`
	SizeBytes        int64     `json:"size_bytes"`
	MimeType         string    `json:"mime_type,omitempty"`
	SHA256Hex        string    `json:"sha256_hex"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuditReader lists recent audit rows, newest first.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]AuditRecord, error)
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// AuditStore records every stored upload in PostgreSQL. It is both a
// StoredFileHook and a HealthChecker.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (a *AuditStore) Name() string { return "database" }

// FileStored inserts one audit row for fd.
func (a *AuditStore) FileStored(ctx context.Context, fd FileDescriptor) error {
	rec := AuditRecord{
		ID:               uuid.NewString(),
		RequestID:        RequestIDFromContext(ctx),
		FieldName:        fd.FieldName,
		OriginalFilename: fd.OriginalFilename,
		StoredPath:       fd.NewFilename,
		SizeBytes:        fd.Size,
		MimeType:         fd.Mimetype,
		SHA256Hex:        fd.SHA256,
		CreatedAt:        time.Now().UTC(),
	}
	return a.Insert(ctx, rec)
}

func (a *AuditStore) Insert(ctx context.Context, rec AuditRecord) error {
	query := `
		INSERT INTO upload_audit (
			id, request_id, field_name, original_filename, stored_path,
			size_bytes, mime_type, sha256_hex, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := a.db.ExecContext(ctx, query,
		rec.ID,
		nullString(rec.RequestID),
		rec.FieldName,
		rec.OriginalFilename,
		rec.StoredPath,
		rec.SizeBytes,
		nullString(rec.MimeType),
		rec.SHA256Hex,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// Recent returns the newest audit rows, most recent first.
func (a *AuditStore) Recent(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, request_id, field_name, original_filename, stored_path,
		       size_bytes, mime_type, sha256_hex, created_at
		FROM upload_audit
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var requestID, mimeType sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&requestID,
			&rec.FieldName,
			&rec.OriginalFilename,
			&rec.StoredPath,
			&rec.SizeBytes,
			&mimeType,
			&rec.SHA256Hex,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.RequestID = requestID.String
		rec.MimeType = mimeType.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CheckHealth checks PostgreSQL connectivity
func (a *AuditStore) CheckHealth(ctx context.Context) ComponentHealth {
	if err := a.db.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "database ping failed: " + err.Error(),
		}
	}

	stats := a.db.Stats()
	return ComponentHealth{
		Status:  ComponentStatusUp,
		Message: "database healthy",
		Details: map[string]any{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
	}
}

// nullString helper for nullable strings
func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}

// HandleRecentUploads serves GET /uploads/recent?limit=N from the audit store.
func (s *Server) HandleRecentUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := s.cfg.Audit.Recent(r.Context(), limit)
	if err != nil {
		Error("audit_recent_failed", map[string]any{"request_id": RequestIDFromContext(r.Context())}, err)
		http.Error(w, "audit store unavailable", http.StatusServiceUnavailable)
		return
	}
	if records == nil {
		records = []AuditRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"uploads": records})
}
