package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeAudit struct {
	records  []AuditRecord
	err      error
	gotLimit int
}

func (f *fakeAudit) Recent(_ context.Context, limit int) ([]AuditRecord, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func TestHandleRecentUploads(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	audit := &fakeAudit{records: []AuditRecord{
		{ID: "2", StoredPath: "docs/b.txt", SizeBytes: 2, SHA256Hex: "bb", CreatedAt: now},
		{ID: "1", StoredPath: "a.txt", SizeBytes: 1, SHA256Hex: "aa", CreatedAt: now.Add(-time.Minute)},
	}}
	srv, _ := newTestServer(t, func(c *Config) { c.Audit = audit })
	ops := srv.OpsHandler()

	tests := []struct {
		name      string
		method    string
		query     string
		wantCode  int
		wantLimit int
		wantRows  int
	}{
		{"default limit", http.MethodGet, "", http.StatusOK, defaultRecentLimit, 2},
		{"explicit limit", http.MethodGet, "?limit=1", http.StatusOK, 1, 1},
		{"limit capped", http.MethodGet, "?limit=100000", http.StatusOK, maxRecentLimit, 2},
		{"zero limit", http.MethodGet, "?limit=0", http.StatusBadRequest, 0, 0},
		{"bad limit", http.MethodGet, "?limit=ten", http.StatusBadRequest, 0, 0},
		{"post rejected", http.MethodPost, "", http.StatusMethodNotAllowed, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit.gotLimit = 0
			rr := httptest.NewRecorder()
			ops.ServeHTTP(rr, httptest.NewRequest(tt.method, "/uploads/recent"+tt.query, nil))

			if rr.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
			if audit.gotLimit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, audit.gotLimit)
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var body struct {
				Uploads []AuditRecord `json:"uploads"`
			}
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Uploads) != tt.wantRows {
				t.Fatalf("Expected %d rows, got %d", tt.wantRows, len(body.Uploads))
			}
			if body.Uploads[0].StoredPath != "docs/b.txt" {
				t.Errorf("Expected newest row first, got %+v", body.Uploads[0])
			}
		})
	}
}

func TestHandleRecentUploads_StoreError(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.Audit = &fakeAudit{err: errors.New("connection refused")}
	})

	rr := httptest.NewRecorder()
	srv.OpsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/uploads/recent", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
}

func TestHandleRecentUploads_EmptyStore(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.Audit = &fakeAudit{} })

	rr := httptest.NewRecorder()
	srv.OpsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/uploads/recent", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != "{\"uploads\":[]}\n" {
		t.Errorf("Expected empty uploads array, got %q", got)
	}
}

func TestOpsHandler_RecentUploadsNeedsAudit(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	srv.OpsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/uploads/recent", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without an audit store, got %d", rr.Code)
	}
}
