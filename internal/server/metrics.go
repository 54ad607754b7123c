package server

import (
	"sync"
	"time"
)

// Metrics holds application metrics
type Metrics struct {
	mu sync.RWMutex

	// Upload metrics
	uploadsTotal        int64
	uploadFilesTotal    int64
	uploadBytesTotal    int64
	uploadErrorsTotal   int64
	uploadDurationTotal time.Duration
	hookFailuresTotal   int64

	// Static metrics
	staticServedTotal   int64
	staticBytesTotal    int64
	staticNotFoundTotal int64

	// Form metrics
	formsRenderedTotal int64
	formErrorsTotal    int64

	// System metrics
	requestsTotal    int64
	requestErrors5xx int64
	requestErrors4xx int64
}

var globalMetrics = &Metrics{}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordUpload records an accepted upload request storing files files.
func (m *Metrics) RecordUpload(files int, bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsTotal++
	m.uploadFilesTotal += int64(files)
	m.uploadBytesTotal += bytes
	m.uploadDurationTotal += duration
}

// RecordUploadError records a rejected upload
func (m *Metrics) RecordUploadError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErrorsTotal++
}

func (m *Metrics) RecordHookFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hookFailuresTotal++
}

// RecordStatic records a static file served in full
func (m *Metrics) RecordStatic(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staticServedTotal++
	m.staticBytesTotal += bytes
}

func (m *Metrics) RecordStaticNotFound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staticNotFoundTotal++
}

func (m *Metrics) RecordForm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formsRenderedTotal++
}

func (m *Metrics) RecordFormError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formErrorsTotal++
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++

	if statusCode >= 500 {
		m.requestErrors5xx++
	} else if statusCode >= 400 {
		m.requestErrors4xx++
	}
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		UploadsTotal:        m.uploadsTotal,
		UploadFilesTotal:    m.uploadFilesTotal,
		UploadBytesTotal:    m.uploadBytesTotal,
		UploadErrorsTotal:   m.uploadErrorsTotal,
		UploadAvgDurationMs: avgDuration(m.uploadDurationTotal, m.uploadsTotal),
		HookFailuresTotal:   m.hookFailuresTotal,
		StaticServedTotal:   m.staticServedTotal,
		StaticBytesTotal:    m.staticBytesTotal,
		StaticNotFoundTotal: m.staticNotFoundTotal,
		FormsRenderedTotal:  m.formsRenderedTotal,
		FormErrorsTotal:     m.formErrorsTotal,
		RequestsTotal:       m.requestsTotal,
		RequestErrors5xx:    m.requestErrors5xx,
		RequestErrors4xx:    m.requestErrors4xx,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	// Upload metrics
	UploadsTotal        int64   `json:"uploads_total"`
	UploadFilesTotal    int64   `json:"upload_files_total"`
	UploadBytesTotal    int64   `json:"upload_bytes_total"`
	UploadErrorsTotal   int64   `json:"upload_errors_total"`
	UploadAvgDurationMs float64 `json:"upload_avg_duration_ms"`
	HookFailuresTotal   int64   `json:"hook_failures_total"`

	// Static metrics
	StaticServedTotal   int64 `json:"static_served_total"`
	StaticBytesTotal    int64 `json:"static_bytes_total"`
	StaticNotFoundTotal int64 `json:"static_not_found_total"`

	// Form metrics
	FormsRenderedTotal int64 `json:"forms_rendered_total"`
	FormErrorsTotal    int64 `json:"form_errors_total"`

	// System metrics
	RequestsTotal    int64 `json:"requests_total"`
	RequestErrors5xx int64 `json:"request_errors_5xx"`
	RequestErrors4xx int64 `json:"request_errors_4xx"`
}

func avgDuration(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(count)
}
