//go:build integration

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestHTTPWorkflow drives both listeners over real TCP connections: static
// pages, a form post, a folder upload, a rejected method and the ops
// endpoints afterwards.
func TestHTTPWorkflow(t *testing.T) {
	hook := &recordingHook{name: "recorder"}
	srv, cfg := newTestServer(t, func(c *Config) {
		c.Hooks = []StoredFileHook{hook}
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	ops := httptest.NewServer(srv.OpsHandler())
	defer ops.Close()

	client := &http.Client{Timeout: 30 * time.Second}

	t.Run("Index Page", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/index.html")
		if err != nil {
			t.Fatalf("GET /index.html: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
		if string(body) != "<h1>home</h1>" {
			t.Errorf("unexpected index body %q", body)
		}
		if resp.Header.Get("X-Request-Id") == "" {
			t.Error("Expected X-Request-Id header")
		}
	})

	t.Run("Missing Asset", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/nope.css")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("Form Submission", func(t *testing.T) {
		resp, err := client.PostForm(ts.URL+"/contact", url.Values{
			"ime":    {"Ana"},
			"email":  {"ana@example.com"},
			"poruka": {"Dobar dan"},
		})
		if err != nil {
			t.Fatalf("POST form: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
		}
		if want := "<p>Ana|ana@example.com|Dobar dan</p>"; string(body) != want {
			t.Errorf("Expected %q, got %q", want, body)
		}
	})

	t.Run("Folder Upload", func(t *testing.T) {
		body, ct := multipartBody(t,
			fieldPart("source", "picker"),
			filePart("files", "Projekt/Opis Zadatka.txt", "zadatak"),
			filePart("files", "Projekt/src/Main.go", "package main"),
		)
		resp, err := client.Post(ts.URL+"/upload", ct, body)
		if err != nil {
			t.Fatalf("POST upload: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, b)
		}
		var result UploadResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode upload response: %v", err)
		}
		if len(result.Files["files"]) != 2 {
			t.Fatalf("Expected 2 files, got %+v", result.Files)
		}

		for _, rel := range []string{"projekt/opiszadatka.txt", "projekt/src/main.go"} {
			if _, err := os.Stat(filepath.Join(cfg.Upload.Dir, filepath.FromSlash(rel))); err != nil {
				t.Errorf("Expected %s on disk: %v", rel, err)
			}
		}
		hook.mu.Lock()
		got := len(hook.files)
		hook.mu.Unlock()
		if got != 2 {
			t.Errorf("Expected hook to see 2 files, saw %d", got)
		}
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/", nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("DELETE: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", resp.StatusCode)
		}
	})

	t.Run("Health", func(t *testing.T) {
		resp, err := client.Get(ops.URL + "/health")
		if err != nil {
			t.Fatalf("Health check failed: %v", err)
		}
		defer resp.Body.Close()

		var h Health
		if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
			t.Fatalf("Failed to decode health response: %v", err)
		}
		if h.Status != HealthStatusHealthy {
			t.Errorf("Expected healthy after upload created the dir, got %s (%+v)", h.Status, h.Components)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		resp, err := client.Get(ops.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		for _, want := range []string{"fd_uploads_total", "fd_forms_rendered_total", "fd_requests_total"} {
			if !strings.Contains(string(body), want) {
				t.Errorf("Expected %s in metrics output", want)
			}
		}
	})
}
