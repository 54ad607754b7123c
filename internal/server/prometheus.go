// prometheus.go - Prometheus text exporter for the in-process metrics
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

var serverStartTime = time.Now()

// promWriter accumulates metric families in the text exposition format.
type promWriter struct {
	b strings.Builder
}

func (p *promWriter) family(name, kind, help string) {
	fmt.Fprintf(&p.b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func (p *promWriter) sample(name string, labels string, v any) {
	if labels != "" {
		fmt.Fprintf(&p.b, "%s{%s} %v\n", name, labels, v)
		return
	}
	fmt.Fprintf(&p.b, "%s %v\n", name, v)
}

func (p *promWriter) counter(name, help string, v int64) {
	p.family(name, "counter", help)
	p.sample(name, "", v)
	p.b.WriteByte('\n')
}

// PrometheusMetricsHandlerFor exports metrics in Prometheus format, labelling
// the build info gauge with build.
func PrometheusMetricsHandlerFor(build BuildInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := GetMetrics().Snapshot()
		var p promWriter

		p.family("fd_info", "gauge", "Application version info")
		p.sample("fd_info", fmt.Sprintf(`version="%s",commit="%s"`,
			prometheusLabel(build.Version), prometheusLabel(build.Commit)), 1)
		p.b.WriteByte('\n')

		p.counter("fd_requests_total", "Total number of HTTP requests", snap.RequestsTotal)

		p.family("fd_request_errors_total", "counter", "HTTP responses with an error status")
		p.sample("fd_request_errors_total", `class="4xx"`, snap.RequestErrors4xx)
		p.sample("fd_request_errors_total", `class="5xx"`, snap.RequestErrors5xx)
		p.b.WriteByte('\n')

		p.counter("fd_static_served_total", "Static files served", snap.StaticServedTotal)
		p.counter("fd_static_bytes_total", "Bytes of static content served", snap.StaticBytesTotal)
		p.counter("fd_static_not_found_total", "Static lookups answered with 404", snap.StaticNotFoundTotal)

		p.counter("fd_forms_rendered_total", "Form submissions rendered", snap.FormsRenderedTotal)
		p.counter("fd_form_errors_total", "Form submissions that failed", snap.FormErrorsTotal)

		p.counter("fd_uploads_total", "Accepted upload requests", snap.UploadsTotal)
		p.counter("fd_upload_files_total", "Files stored by uploads", snap.UploadFilesTotal)
		p.counter("fd_upload_bytes_total", "Bytes stored by uploads", snap.UploadBytesTotal)
		p.counter("fd_upload_errors_total", "Rejected upload requests", snap.UploadErrorsTotal)
		p.counter("fd_upload_hook_failures_total", "Stored-file hooks that returned an error", snap.HookFailuresTotal)

		p.family("fd_upload_avg_duration_ms", "gauge", "Average upload handling time")
		p.sample("fd_upload_avg_duration_ms", "", snap.UploadAvgDurationMs)
		p.b.WriteByte('\n')

		p.family("fd_uptime_seconds", "counter", "Application uptime in seconds")
		p.sample("fd_uptime_seconds", "", fmt.Sprintf("%.0f", time.Since(serverStartTime).Seconds()))

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(p.b.String()))
	})
}

// Helper function to format label safely for Prometheus
func prometheusLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "\\n")
	return value
}
