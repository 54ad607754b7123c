package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const testTemplate = `<p>{{.Name}}|{{.Email}}|{{.Message}}</p>`

// newTestServer builds a Server over a temp public dir holding a few assets
// and the form template.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, Config) {
	t.Helper()

	root := t.TempDir()
	public := filepath.Join(root, "public")
	if err := os.MkdirAll(filepath.Join(public, "css"), 0o755); err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		"index.html":   "<h1>home</h1>",
		"css/site.css": "body{margin:0}",
		"app.js":       "console.log(1)",
		"data.html":    testTemplate,
		"notes.txt":    "plain notes",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(public, filepath.FromSlash(name)), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := Config{
		PublicDir: public,
		Upload:    DefaultUploadOptions(filepath.Join(root, "uploads")),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg)
	return srv, srv.cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Addr != ":8000" {
		t.Errorf("Expected :8000, got %s", cfg.Addr)
	}
	if cfg.PublicDir != "public" {
		t.Errorf("Expected public, got %s", cfg.PublicDir)
	}
	if cfg.TemplatePath != filepath.Join("public", "data.html") {
		t.Errorf("Expected public/data.html, got %s", cfg.TemplatePath)
	}
	if cfg.MaxFormBytes != DefaultMaxFormBytes {
		t.Errorf("Expected %d, got %d", DefaultMaxFormBytes, cfg.MaxFormBytes)
	}
	if cfg.Upload.Dir != "uploads" {
		t.Errorf("Expected uploads, got %s", cfg.Upload.Dir)
	}
	if cfg.Upload.MaxFileSize != 1<<20 || cfg.Upload.MaxTotalFileSize != 1<<20 {
		t.Errorf("Expected 1 MiB limits, got %d/%d", cfg.Upload.MaxFileSize, cfg.Upload.MaxTotalFileSize)
	}
	if cfg.Upload.InvalidName != DefaultInvalidName {
		t.Errorf("Expected %q, got %q", DefaultInvalidName, cfg.Upload.InvalidName)
	}
}

func TestDispatch_Routes(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"get static", http.MethodGet, "/index.html", "", http.StatusOK, "<h1>home</h1>"},
		{"get missing", http.MethodGet, "/nope.html", "", http.StatusNotFound, "file not found"},
		{"post form", http.MethodPost, "/anything", "ime=Ana", http.StatusOK, "<p>Ana||</p>"},
		{"put", http.MethodPut, "/index.html", "", http.StatusMethodNotAllowed, "invalid request"},
		{"delete", http.MethodDelete, "/upload", "", http.StatusMethodNotAllowed, "invalid request"},
		{"patch", http.MethodPatch, "/", "", http.StatusMethodNotAllowed, "invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if rr.Body.String() != tt.wantBody {
				t.Errorf("Expected body %q, got %q", tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestDispatch_InvalidMethodAdvertisesAllow(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected 405, got %d", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != "GET, POST" {
		t.Errorf("Expected Allow 'GET, POST', got %q", got)
	}

	// The server keeps serving afterwards.
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200 after an invalid request, got %d", rr.Code)
	}
}

func TestHandler_Middleware(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	t.Run("generates request id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/index.html", nil))
		if rr.Header().Get("X-Request-Id") == "" {
			t.Error("Expected X-Request-Id header")
		}
	})

	t.Run("keeps client request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
		req.Header.Set("X-Request-Id", "abc-123")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("X-Request-Id"); got != "abc-123" {
			t.Errorf("Expected abc-123, got %q", got)
		}
	})

	t.Run("security headers", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
		for _, k := range []string{"X-Frame-Options", "X-Content-Type-Options", "Content-Security-Policy", "Referrer-Policy"} {
			if rr.Header().Get(k) == "" {
				t.Errorf("Expected %s header", k)
			}
		}
	})
}

func TestOpsHandler(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.OpsHandler()

	for _, path := range []string{"/health", "/live", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
			if rr.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.Addr = "127.0.0.1:0"
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Expected Start to return nil after Shutdown, got %v", err)
	}
}

func TestHandler_ConcurrentStaticRequests(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/notes.txt")
			if err != nil {
				errs <- err.Error()
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK || string(body) != "plain notes" {
				errs <- resp.Status + " " + string(body)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}
