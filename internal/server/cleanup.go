package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ParseUpload stages files in stagingDirName under the upload root. "@" never
// survives SanitizeUploadPath, so no stored upload can live there. A crash
// between staging and commit leaves tempUploadPrefix files behind.
const (
	stagingDirName   = "@staging"
	tempUploadPrefix = ".upload-"
)

// SweepConfig controls the stale temp file sweeper.
type SweepConfig struct {
	Dir      string
	Interval time.Duration
	MaxAge   time.Duration
}

// StartTempSweeper removes stale staging files of the upload root Dir every
// Interval until ctx is done. It runs once immediately.
func StartTempSweeper(ctx context.Context, cfg SweepConfig) {
	if cfg.Interval <= 0 {
		Info("temp_sweeper_disabled", nil)
		return
	}

	Info("temp_sweeper_starting", map[string]any{
		"dir":      cfg.Dir,
		"interval": cfg.Interval.String(),
		"max_age":  cfg.MaxAge.String(),
	})

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	sweepTempUploads(cfg.Dir, cfg.MaxAge, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sweepTempUploads(cfg.Dir, cfg.MaxAge, now)
		}
	}
}

// sweepTempUploads deletes staging files of the upload root older than
// maxAge and returns how many were removed. Only the staging directory is
// read; committed uploads are never touched.
func sweepTempUploads(uploadRoot string, maxAge time.Duration, now time.Time) int {
	dir := filepath.Join(uploadRoot, stagingDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			Warn("temp_sweep_failed", map[string]any{"dir": dir, "error": err.Error()})
		}
		return 0
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), tempUploadPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			Warn("temp_sweep_remove_failed", map[string]any{"file": e.Name(), "error": err.Error()})
			continue
		}
		removed++
	}

	if removed > 0 {
		Info("temp_sweep_complete", map[string]any{"dir": dir, "removed": removed})
	}
	return removed
}
