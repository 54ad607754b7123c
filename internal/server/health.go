package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Commit     string                     `json:"commit,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   any             `json:"details,omitempty"`
}

// HealthChecker is an optional component reported by /health.
type HealthChecker interface {
	Name() string
	CheckHealth(ctx context.Context) ComponentHealth
}

const healthCheckTimeout = 5 * time.Second

// HandleHealth provides a detailed health check endpoint
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(health)
}

// HandleLive reports that the process is running
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
	})
}

// checkHealth performs health checks on all components
func (s *Server) checkHealth(parent context.Context) Health {
	ctx, cancel := context.WithTimeout(parent, healthCheckTimeout)
	defer cancel()

	health := Health{
		Timestamp:  time.Now(),
		Version:    s.cfg.Build.Version,
		Commit:     s.cfg.Build.Commit,
		Uptime:     humanize.RelTime(serverStartTime, time.Now(), "", ""),
		Components: make(map[string]ComponentHealth),
	}

	health.Components["public_dir"] = checkPublicDir(s.cfg.PublicDir)
	health.Components["upload_dir"] = checkUploadDir(s.cfg.Upload.Dir)

	for _, c := range s.cfg.Checks {
		start := time.Now()
		ch := c.CheckHealth(ctx)
		if ch.LatencyMs == 0 {
			ch.LatencyMs = float64(time.Since(start).Milliseconds())
		}
		health.Components[c.Name()] = ch
	}

	health.Status = determineOverallHealth(health.Components)
	return health
}

// checkPublicDir reports down when the served root is missing, since every
// GET would then answer 404.
func checkPublicDir(dir string) ComponentHealth {
	fi, err := os.Stat(dir)
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "public dir unavailable: " + err.Error()}
	}
	if !fi.IsDir() {
		return ComponentHealth{Status: ComponentStatusDown, Message: "public dir is not a directory"}
	}
	return ComponentHealth{Status: ComponentStatusUp, Message: "public dir readable"}
}

// checkUploadDir verifies the upload root accepts new files. A missing
// directory is only degraded: it is created on the first upload.
func checkUploadDir(dir string) ComponentHealth {
	fi, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return ComponentHealth{Status: ComponentStatusDegraded, Message: "upload dir not created yet"}
	}
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "upload dir unavailable: " + err.Error()}
	}
	if !fi.IsDir() {
		return ComponentHealth{Status: ComponentStatusDown, Message: "upload dir is not a directory"}
	}

	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "upload dir not writable: " + err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return ComponentHealth{Status: ComponentStatusUp, Message: "upload dir writable"}
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var (
		downCount     int
		degradedCount int
	)

	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	if downCount > 0 {
		return HealthStatusUnhealthy
	}
	if degradedCount > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
